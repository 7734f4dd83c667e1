package debugsink

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestSinkEmitWritesOneJSONLine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan Snapshot, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			return
		}

		var snap Snapshot
		if err := json.Unmarshal(line, &snap); err != nil {
			return
		}

		received <- snap
	}()

	s := Dial(ln.Addr().String())
	defer s.Close()

	s.Emit(Snapshot{ID: 7, TypeName: "int", Count: 1, Represent: "7"})

	select {
	case got := <-received:
		if got.ID != 7 || got.TypeName != "int" || got.Count != 1 {
			t.Fatalf("received snapshot = %+v, want id=7 type=int count=1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for emitted snapshot")
	}
}

// TestSinkDialFailureIsSilentlyBroken is debugsink's fire-and-forget
// contract (original_source debug.hpp): a dial failure never panics or
// returns an error, and Emit afterward is a silent no-op.
func TestSinkDialFailureIsSilentlyBroken(t *testing.T) {
	s := Dial("127.0.0.1:1")
	defer s.Close()

	// Must not panic even though the connection never succeeded.
	s.Emit(Snapshot{ID: 1})
}

func TestSinkEmitOnNilSinkIsNoop(t *testing.T) {
	var s *Sink

	s.Emit(Snapshot{ID: 1})

	if err := s.Close(); err != nil {
		t.Fatalf("Close on nil sink: %v", err)
	}
}
