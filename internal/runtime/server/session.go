// Package server implements the server side of the wire protocol (C8) and
// the single-threaded connection reactor (C9).
package server

import (
	"bufio"
	"crypto/md5"
	"encoding/json"
	"net"
	"sync"

	rt "github.com/orizon-lang/managed-memory/internal/runtime"
	"github.com/orizon-lang/managed-memory/internal/runtime/remote"
)

// objectRecord is one entry of a session's object table (spec §3
// "Server-side object table"): ID → (base_address, byte_length), realized
// here by keeping the allocation's header itself, which already exposes
// both.
type objectRecord struct {
	header *rt.AllocationHeader
}

// Session drives the wire protocol on behalf of one remote peer, owning
// its own slice of refcounts on the shared local manager (spec §4.8,
// component C8).
type Session struct {
	conn       net.Conn
	reader     *bufio.Scanner
	writeMu    sync.Mutex
	mgr        *rt.LocalManager
	secret     string
	authorized bool
	pageSize   int

	mu      sync.Mutex
	objects map[uint64]objectRecord
}

// NewSession wraps conn in a server session backed by mgr. secret is the
// pre-shared authentication key; pageSize is the unit used to split
// paged allocations (spec §4.5).
func NewSession(conn net.Conn, mgr *rt.LocalManager, secret string, pageSize int) *Session {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	return &Session{
		conn:     conn,
		reader:   scanner,
		mgr:      mgr,
		secret:   secret,
		pageSize: pageSize,
		objects:  make(map[uint64]objectRecord),
	}
}

// Serve processes request lines until the peer disconnects, sends "bye",
// or a framing error occurs (spec §4.3 "a parse failure or closed socket
// sets the session to lost and discards further traffic").
func (s *Session) Serve() {
	defer s.conn.Close()

	for s.reader.Scan() {
		var req map[string]any

		if err := json.Unmarshal(s.reader.Bytes(), &req); err != nil {
			return
		}

		done := s.handle(req)
		if done {
			return
		}
	}
}

func (s *Session) reply(v any) bool {
	line, err := json.Marshal(v)
	if err != nil {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.conn.Write(append(line, '\n'))

	return err == nil
}

func (s *Session) replyError(reason string) {
	s.reply(map[string]any{"error": reason})
}

// handle dispatches one request object and reports whether the session
// should close.
func (s *Session) handle(req map[string]any) bool {
	_, hasWrite := req["write"]
	_, hasBye := req["bye"]

	switch {
	case req["auth"] != nil:
		return s.handleAuth(req["auth"])
	case !s.authorized:
		s.replyError("unauthorized")

		return true
	case req["alloc"] != nil:
		s.handleAlloc(req)

		return false
	case req["lift"] != nil:
		s.handleLift(req["lift"])

		return false
	case req["drop"] != nil:
		s.handleDrop(req["drop"])

		return false
	case req["read"] != nil:
		s.handleRead(req["read"])

		return false
	case hasWrite:
		s.handleWrite(req)

		return false
	case hasBye:
		s.handleBye()

		return true
	default:
		s.replyError("bad request")

		return false
	}
}

func (s *Session) handleAuth(v any) bool {
	encoded, ok := v.([]any)
	if !ok {
		s.replyError("bad request")

		return true
	}

	got, err := remote.DecodeOctets(encoded)
	if err != nil {
		s.replyError("bad request")

		return true
	}

	want := md5.Sum([]byte(s.secret))

	if len(got) != len(want) || string(got) != string(want[:]) {
		s.replyError("unauthorized")

		return true
	}

	s.authorized = true

	return !s.reply(true)
}

func (s *Session) handleAlloc(req map[string]any) {
	n, _ := req["alloc"].(float64)
	parts, _ := req["parts"].(float64)
	rem, _ := req["rem"].(float64)

	total := int(parts) + boolToInt(rem > 0)
	if total == 0 {
		s.replyError("wrong size")

		return
	}

	firstID := s.mgr.ReserveContiguous(total)

	desc := rt.BytesTypeDescriptor()

	for i := 0; i < total; i++ {
		size := s.pageSize
		if i == total-1 && rem > 0 {
			size = int(rem)
		}

		header := rt.NewBytesHeader(desc, size)

		id, err := s.mgr.Allocate(header)
		if err != nil {
			s.replyError("bad request")

			return
		}

		s.mu.Lock()
		s.objects[uint64(id)] = objectRecord{header: header}
		s.mu.Unlock()

		if i == 0 {
			for extra := 0; extra < int(n)-1; extra++ {
				_ = s.mgr.Lift(id)
			}
		}
	}

	s.reply(float64(firstID))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func (s *Session) handleLift(v any) {
	id, ok := v.(float64)
	if !ok {
		s.replyError("bad request")

		return
	}

	if err := s.mgr.Lift(rt.ObjectID(id)); err != nil {
		s.replyError("object not found")

		return
	}

	s.reply(map[string]any{})
}

func (s *Session) handleDrop(v any) {
	idf, ok := v.(float64)
	if !ok {
		s.replyError("bad request")

		return
	}

	id := rt.ObjectID(idf)

	res, err := s.mgr.Drop(id)
	if err != nil {
		s.replyError("object not found")

		return
	}

	switch res {
	case rt.Hanging:
		s.reply(map[string]any{"hanging": true})
	case rt.Lost:
		s.mu.Lock()
		delete(s.objects, uint64(id))
		s.mu.Unlock()
		s.reply(map[string]any{"lost": true})
	default:
		s.reply(map[string]any{})
	}
}

func (s *Session) handleRead(v any) {
	idf, ok := v.(float64)
	if !ok {
		s.replyError("bad request")

		return
	}

	s.mu.Lock()
	rec, ok := s.objects[uint64(idf)]
	s.mu.Unlock()

	if !ok {
		s.replyError("object not found")

		return
	}

	data := rt.ReadBytes(rec.header)
	s.reply(remote.EncodeOctets(data))
}

func (s *Session) handleWrite(req map[string]any) {
	idf, ok := req["write"].(float64)
	if !ok {
		s.replyError("bad request")

		return
	}

	valueArr, ok := req["value"].([]any)
	if !ok {
		s.replyError("bad request")

		return
	}

	s.mu.Lock()
	rec, ok := s.objects[uint64(idf)]
	s.mu.Unlock()

	if !ok {
		s.replyError("object not found")

		return
	}

	data, err := remote.DecodeOctets(valueArr)
	if err != nil || len(data) != rec.header.Count() {
		s.replyError("wrong size")

		return
	}

	rt.WriteBytes(rec.header, data)
	s.reply(map[string]any{})
}

func (s *Session) handleBye() {
	s.mu.Lock()
	leaked := make([]uint64, 0, len(s.objects))

	for id := range s.objects {
		leaked = append(leaked, id)
	}

	s.mu.Unlock()

	if len(leaked) == 0 {
		s.reply(map[string]any{})

		return
	}

	s.reply(map[string]any{"leaked": leaked})
}
