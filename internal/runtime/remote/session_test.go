package remote

import (
	"bufio"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net"
	"testing"
)

// TestDialHandshakeS1 is spec.md scenario S1: secret "hunter2" hashes to
// the literal hex string and the auth message array contains exactly that
// one element.
func TestDialHandshakeS1(t *testing.T) {
	const secret = "hunter2"
	const wantHex = "2ab96390c7dbe3439de74d0c9b0b1767"

	sum := md5.Sum([]byte(secret))
	if hx := sumHex(sum[:]); hx != wantHex {
		t.Fatalf("md5(%q) = %s, want %s", secret, hx, wantHex)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			serverDone <- scanner.Err()
			return
		}

		var req map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			serverDone <- err
			return
		}

		arr, ok := req["auth"].([]any)
		if !ok || len(arr) != 1 || arr[0] != wantHex {
			serverDone <- fmt.Errorf("unexpected auth payload: %#v", req)
			return
		}

		reply, _ := json.Marshal(true)
		conn.Write(append(reply, '\n'))

		serverDone <- nil
	}()

	sess, err := Dial(ln.Addr().String(), secret)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server side: %v", err)
	}

	if sess.Lost() {
		t.Fatalf("session reported lost after successful handshake")
	}
}

func sumHex(b []byte) string {
	const hexDigits = "0123456789abcdef"

	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}

	return string(out)
}
