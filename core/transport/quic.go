package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	quic "github.com/refraction-networking/uquic"
	utls "github.com/refraction-networking/utls"
)

// DefaultALPN is offered on QUIC tunnels when no protocol list is set; QUIC
// refuses handshakes without one.
const DefaultALPN = "h3"

// QUICConfig contains configuration options for the QUIC transport.
type QUICConfig struct {
	TLSConfig  *utls.Config
	QUICConfig *quic.Config
}

// QUICTransport carries one tunnel connection per QUIC connection, on its
// first bidirectional stream.
type QUICTransport struct {
	tlsConfig  *utls.Config
	quicConfig *quic.Config
}

// NewQUICTransport creates a new QUICTransport with the given configuration.
func NewQUICTransport(cfg *QUICConfig) (*QUICTransport, error) {
	if cfg.TLSConfig == nil {
		return nil, errors.New("TLSConfig is required for QUIC transport")
	}
	tlsConfig := cfg.TLSConfig.Clone()
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{DefaultALPN}
	}
	return &QUICTransport{
		tlsConfig:  tlsConfig,
		quicConfig: cfg.QUICConfig,
	}, nil
}

// DialContext connects to the given address using QUIC.
func (t *QUICTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	tlsConfig := t.tlsConfig
	if tlsConfig.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName = host
		}
	}

	conn, err := quic.DialAddr(ctx, address, tlsConfig, t.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic dial failed: %w", err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("quic open stream failed: %w", err)
	}

	return &quicConn{Stream: stream, conn: conn}, nil
}

// Listen starts a QUIC listener on the given address. The TLS config must
// carry the server certificate.
func (t *QUICTransport) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(t.tlsConfig.Certificates) == 0 {
		return nil, errors.New("quic listen: TLS config has no certificate")
	}

	l, err := quic.ListenAddr(address, t.tlsConfig, t.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic listen failed: %w", err)
	}
	return &quicListener{listener: l, ctx: ctx}, nil
}

// Close is a no-op for the QUIC transport itself.
func (t *QUICTransport) Close() error {
	return nil
}

// quicListener adapts a *quic.Listener to net.Listener.
type quicListener struct {
	listener *quic.Listener
	ctx      context.Context
}

// Accept waits for a connection and its first stream.
func (l *quicListener) Accept() (net.Conn, error) {
	conn, err := l.listener.Accept(l.ctx)
	if err != nil {
		if ctxErr := l.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("quic accept failed: %w", err)
	}

	stream, err := conn.AcceptStream(l.ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		if ctxErr := l.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("quic accept stream failed: %w", err)
	}
	return &quicConn{Stream: stream, conn: conn}, nil
}

func (l *quicListener) Close() error {
	return l.listener.Close()
}

func (l *quicListener) Addr() net.Addr {
	return l.listener.Addr()
}

// quicConn wraps a quic.Stream and quic.Connection to implement the net.Conn interface.
type quicConn struct {
	quic.Stream
	conn quic.Connection
}

// Close closes the stream and the underlying QUIC connection.
func (c *quicConn) Close() error {
	err := c.Stream.Close()
	if err != nil {
		_ = c.conn.CloseWithError(0, "closing")
		return fmt.Errorf("quic stream close failed: %w", err)
	}
	if err := c.conn.CloseWithError(0, "closing"); err != nil {
		return fmt.Errorf("quic conn close failed: %w", err)
	}
	return nil
}

// CloseWrite ends the send side of the stream; the peer reads EOF.
func (c *quicConn) CloseWrite() error {
	return c.Stream.Close()
}

func (c *quicConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline applies to the stream only; the QUIC connection has its own
// idle timeout.
func (c *quicConn) SetDeadline(t time.Time) error {
	_ = c.Stream.SetReadDeadline(t)
	return c.Stream.SetWriteDeadline(t)
}
