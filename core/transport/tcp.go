package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// TCPConfig contains configuration options for the TCP transport.
type TCPConfig struct {
	DialTimeout time.Duration
	KeepAlive   time.Duration
	// ServerTLS wraps listeners in TLS. Client-side TLS is layered on by
	// UTLSMiddleware so the ClientHello can be fingerprinted.
	ServerTLS *tls.Config
}

// TCPTransport implements the Transport interface for TCP connections.
type TCPTransport struct {
	dialer    *net.Dialer
	serverTLS *tls.Config
}

// NewTCPTransport creates a new TCPTransport with the given configuration.
func NewTCPTransport(cfg *TCPConfig) *TCPTransport {
	return &TCPTransport{
		dialer: &net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		},
		serverTLS: cfg.ServerTLS,
	}
}

// DialContext opens a raw TCP connection.
func (t *TCPTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := t.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", address, err)
	}
	return conn, nil
}

// Listen creates a listener on the specified network address. If a server TLS
// config is set, it returns a TLS listener.
func (t *TCPTransport) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", address, err)
	}

	if t.serverTLS != nil {
		return tls.NewListener(ln, t.serverTLS), nil
	}
	return ln, nil
}

// Close is a no-op for TCPTransport as it doesn't hold persistent resources itself.
// The connections it creates are managed individually.
func (t *TCPTransport) Close() error {
	return nil
}
