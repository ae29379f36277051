//go:generate mockgen -package=mocks -destination=../../mocks/mock_transport.go github.com/sourceshift/veiltun/core/transport Transport

// Package transport provides the byte pipes the tunnel runs over: plain TCP,
// TCP behind a fingerprinted uTLS client, and QUIC streams.
package transport

import (
	"context"
	"errors"
	"net"
)

// Transport is the interface for network transports.
// It abstracts the underlying protocol (TCP, QUIC, etc.).
type Transport interface {
	// DialContext connects to the given address.
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
	// Listen creates a listener on the specified network address.
	Listen(ctx context.Context, network, address string) (net.Listener, error)
	// Close closes the transport, releasing any resources.
	Close() error
}

// Middleware is a function that wraps a Transport to add functionality.
type Middleware func(transport Transport) Transport

var ErrHandshake = errors.New("transport: handshake failed")
