package server

import (
	"net"
	"testing"
	"time"

	rt "github.com/orizon-lang/managed-memory/internal/runtime"
	"github.com/orizon-lang/managed-memory/internal/runtime/remote"
)

const testSecret = "hunter2"

func startTestServer(t *testing.T, pageSize int) (addr string, mgr *rt.LocalManager, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	mgr = rt.NewLocalManager()
	reactor := NewReactor(ln, mgr, testSecret, pageSize)

	go reactor.Serve()

	return ln.Addr().String(), mgr, func() {
		reactor.Close()
		mgr.Close()
	}
}

func TestSessionAllocWriteReadDrop(t *testing.T) {
	addr, _, stop := startTestServer(t, 4096)
	defer stop()

	sess, err := remote.Dial(addr, testSecret)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	// 9000 bytes at page_size=4096: parts=2, rem=808 -> 3 consecutive IDs
	// (spec.md scenario S4). Initial lift of 2 matches the remote manager's
	// "first part starts with server-side count = 2" contract (spec §4.5).
	firstID, err := sess.Alloc("bytes", 2, 4096, 2, 808)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	payload := make([]byte, 4096)
	payload[0] = 0xAB

	if err := sess.Write(firstID, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := sess.Read(firstID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(got) != 4096 || got[0] != 0xAB {
		t.Fatalf("Read back len=%d first=%x, want len 4096 first 0xAB", len(got), got[0])
	}

	// Terminal drop sequence (S5): one drop brings the count from 2 to 1
	// (hanging), then the part IDs drop to lost in order.
	if res, err := sess.Drop(firstID); err != nil || res != "hanging" {
		t.Fatalf("drop = (%s, %v), want hanging", res, err)
	}

	for i := uint64(0); i < 3; i++ {
		id := firstID + i
		if res, err := sess.Drop(id); err != nil || res != "lost" {
			t.Fatalf("terminal drop of part %d = (%s, %v), want lost", id, res, err)
		}
	}

	leaked, err := sess.Bye()
	if err != nil {
		t.Fatalf("Bye: %v", err)
	}

	if len(leaked) != 0 {
		t.Fatalf("leaked = %v, want none", leaked)
	}
}

func TestSessionAuthRejection(t *testing.T) {
	addr, _, stop := startTestServer(t, 4096)
	defer stop()

	if _, err := remote.Dial(addr, "wrong-secret"); err == nil {
		t.Fatalf("expected dial/auth failure with wrong secret")
	}
}

func TestSessionAllocZeroSizeRejected(t *testing.T) {
	addr, _, stop := startTestServer(t, 4096)
	defer stop()

	sess, err := remote.Dial(addr, testSecret)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if _, err := sess.Alloc("bytes", 1, 4096, 0, 0); err == nil {
		t.Fatalf("expected wrong-size error for parts=0,rem=0")
	}
}

func TestSessionBeaconLeaksReported(t *testing.T) {
	addr, _, stop := startTestServer(t, 4096)
	defer stop()

	sess, err := remote.Dial(addr, testSecret)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	id, err := sess.Alloc("bytes", 1, 4096, 1, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	leaked, err := sess.Bye()
	if err != nil {
		t.Fatalf("Bye: %v", err)
	}

	if len(leaked) != 1 || leaked[0] != id {
		t.Fatalf("leaked = %v, want [%d]", leaked, id)
	}
}
