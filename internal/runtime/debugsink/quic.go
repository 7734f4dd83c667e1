package debugsink

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	quic "github.com/quic-go/quic-go"
)

// quicConnAdapter presents a single QUIC stream, plus its owning
// connection, as a net.Conn so Sink's plain-TCP write path works
// unchanged (mirrors the teacher's HTTP3Server wrapping quic-go types
// behind a stdlib-shaped surface).
type quicConnAdapter struct {
	*quic.Stream
	owner *quic.Conn
}

func (a *quicConnAdapter) Close() error {
	err := a.Stream.Close()
	_ = a.owner.CloseWithError(0, "debugsink: closed")

	return err
}

func (a *quicConnAdapter) LocalAddr() net.Addr  { return a.owner.LocalAddr() }
func (a *quicConnAdapter) RemoteAddr() net.Addr { return a.owner.RemoteAddr() }

// dialQUIC opens a QUIC connection to hostPort and a single outgoing
// stream for debug traffic. The debug sink never verifies server
// identity beyond reachability — it's a best-effort diagnostic channel,
// not part of the authenticated wire protocol (C3/C8).
func dialQUIC(hostPort string) (net.Conn, error) {
	ctx := context.Background()

	tlsConf := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // debug side-channel only, not the authenticated protocol
		NextProtos:         []string{"mm-debug"},
	}

	conn, err := quic.DialAddr(ctx, hostPort, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("debugsink: quic dial %s: %w", hostPort, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream open failed")

		return nil, fmt.Errorf("debugsink: quic open stream: %w", err)
	}

	return &quicConnAdapter{Stream: stream, owner: conn}, nil
}
