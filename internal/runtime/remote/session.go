package remote

import (
	"bufio"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// ClientSession drives the wire protocol from the client side (spec §4.3,
// component C3): one JSON object per line, a single mutex serializing
// send+receive pairs so concurrent callers see atomic request/response
// pairs.
type ClientSession struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Scanner
	lost   bool
}

// Dial connects to addr and performs the MD5 pre-shared-secret handshake
// (spec §4.3 "Handshake", §8 scenario S1). It keeps SO_KEEPALIVE enabled on
// the raw file descriptor, mirroring the teacher's raw-fd extraction
// pattern for long-lived sockets.
func Dial(addr, secret string) (*ClientSession, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if raw, err := tc.SyscallConn(); err == nil {
			_ = raw.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
			})
		}
	}

	s := &ClientSession{
		conn:   conn,
		reader: bufio.NewScanner(conn),
	}
	s.reader.Buffer(make([]byte, 4096), 1<<20)

	sum := md5.Sum([]byte(secret))
	encoded := EncodeOctets(sum[:])

	reply, err := s.roundTrip(map[string]any{"auth": encoded})
	if err != nil {
		s.markLost()

		return nil, err
	}

	ok, _ := reply.(bool)
	if !ok {
		s.markLost()

		return nil, fmt.Errorf("remote: authentication rejected")
	}

	return s, nil
}

func (s *ClientSession) markLost() {
	s.lost = true
	_ = s.conn.Close()
}

// roundTrip sends req as a single JSON line and parses the single JSON
// value of the reply line. It does not take mu: every exported method
// below takes mu itself before calling it, and Dial calls it before the
// session is handed to any other caller.
func (s *ClientSession) roundTrip(req any) (any, error) {
	if s.lost {
		return nil, fmt.Errorf("remote: session lost")
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	if _, err := s.conn.Write(append(line, '\n')); err != nil {
		s.markLost()

		return nil, fmt.Errorf("remote: write request: %w", err)
	}

	if !s.reader.Scan() {
		s.markLost()

		if err := s.reader.Err(); err != nil {
			return nil, fmt.Errorf("remote: read reply: %w", err)
		}

		return nil, fmt.Errorf("remote: connection closed")
	}

	var reply any
	if err := json.Unmarshal(s.reader.Bytes(), &reply); err != nil {
		s.markLost()

		return nil, fmt.Errorf("remote: malformed reply: %w", err)
	}

	if obj, ok := reply.(map[string]any); ok {
		if reason, ok := obj["error"]; ok {
			s.markLost()

			return nil, fmt.Errorf("remote: server error %v", reason)
		}
	}

	return reply, nil
}

// Alloc requests a paged allocation of parts pages of unit bytes plus a
// rem-byte remainder, tagged with typ for server-side diagnostics, with
// initialLift as the first part's starting count, and returns the first ID
// of the contiguous run (spec §4.3 alloc row, §4.5). unit, parts and rem
// are only sent when positive.
func (s *ClientSession) Alloc(typ string, initialLift int, unit, parts, rem int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := map[string]any{
		"alloc": initialLift,
		"type":  typ,
	}

	if unit > 0 {
		req["unit"] = unit
	}

	if parts > 0 {
		req["parts"] = parts
	}

	if rem > 0 {
		req["rem"] = rem
	}

	reply, err := s.roundTrip(req)
	if err != nil {
		return 0, err
	}

	n, ok := reply.(float64)
	if !ok {
		return 0, fmt.Errorf("remote: alloc: unexpected reply shape %T", reply)
	}

	return uint64(n), nil
}

// Lift requests a refcount increment for id.
func (s *ClientSession) Lift(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.roundTrip(map[string]any{"lift": id})

	return err
}

// Drop requests a refcount decrement for id and reports the transition
// (spec §4.3 drop row).
func (s *ClientSession) Drop(id uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := s.roundTrip(map[string]any{"drop": id})
	if err != nil {
		return "", err
	}

	obj, ok := reply.(map[string]any)
	if !ok {
		return "", fmt.Errorf("remote: drop: unexpected reply shape %T", reply)
	}

	if v, ok := obj["lost"]; ok && v == true {
		return "lost", nil
	}

	if v, ok := obj["hanging"]; ok && v == true {
		return "hanging", nil
	}

	return "reduced", nil
}

// Read fetches the encoded octets of allocation id and decodes them.
func (s *ClientSession) Read(id uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := s.roundTrip(map[string]any{"read": id})
	if err != nil {
		return nil, err
	}

	arr, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("remote: read: unexpected reply shape %T", reply)
	}

	return DecodeOctets(arr)
}

// Write sends value's encoded octets to overwrite allocation id.
func (s *ClientSession) Write(id uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.roundTrip(map[string]any{"write": id, "value": EncodeOctets(value)})

	return err
}

// Bye requests session termination, reporting any leaked IDs the server
// reports back (spec §4.3 bye row).
func (s *ClientSession) Bye() ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := s.roundTrip(map[string]any{"bye": nil})
	if err != nil {
		return nil, err
	}

	s.markLost()

	obj, ok := reply.(map[string]any)
	if !ok {
		return nil, nil
	}

	raw, ok := obj["leaked"].([]any)
	if !ok {
		return nil, nil
	}

	leaked := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			leaked = append(leaked, uint64(f))
		}
	}

	return leaked, nil
}

// Lost reports whether the session has discarded further traffic after a
// parse failure or closed socket (spec §4.3 framing rule).
func (s *ClientSession) Lost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lost
}
