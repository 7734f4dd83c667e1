package server

import (
	"log"
	"net"

	rt "github.com/orizon-lang/managed-memory/internal/runtime"
)

// Reactor is the single-threaded connection acceptor (spec §4.9, component
// C9): it owns one shared LocalManager and hands each accepted connection
// its own Session, run on its own goroutine so a slow or wedged peer never
// blocks new connections.
type Reactor struct {
	ln       net.Listener
	mgr      *rt.LocalManager
	secret   string
	pageSize int
}

// NewReactor wraps ln, serving every accepted connection against mgr with
// the given pre-shared secret and page size.
func NewReactor(ln net.Listener, mgr *rt.LocalManager, secret string, pageSize int) *Reactor {
	return &Reactor{ln: ln, mgr: mgr, secret: secret, pageSize: pageSize}
}

// Serve accepts connections until ln is closed. A timeout error from
// Accept is retried; any other Accept error ends Serve and is returned. A
// panic inside a session is recovered and logged, so it affects only that
// session.
func (r *Reactor) Serve() error {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}

			return err
		}

		sess := NewSession(conn, r.mgr, r.secret, r.pageSize)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					log.Printf("mm-server: session panic: %v", p)
				}
			}()

			sess.Serve()
		}()
	}
}

// Close stops accepting new connections.
func (r *Reactor) Close() error {
	return r.ln.Close()
}
