package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sourceshift/veiltun/core/transport"
	"github.com/sourceshift/veiltun/pkg/logging"
)

// DefaultSetupTimeout bounds the target exchange when the caller's context has
// no deadline.
const DefaultSetupTimeout = 10 * time.Second

// Client opens tunnel connections to a relay server.
type Client struct {
	transport transport.Transport
	server    string
	obfs      Obfuscation
	logger    logging.Logger
}

// NewClient dials server over t for every target and wraps each connection
// with o.
func NewClient(t transport.Transport, server string, o Obfuscation, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Client{
		transport: t,
		server:    server,
		obfs:      o,
		logger:    logger.With("component", "relay-client", "server", server),
	}
}

// DialContext opens a tunnel connection and asks the server to connect it to
// address. It satisfies socks.Dialer.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	raw, err := c.transport.DialContext(ctx, "tcp", c.server)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", c.server, err)
	}

	conn, err := c.obfs.Wrap(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultSetupTimeout)
	}
	_ = conn.SetDeadline(deadline)

	if err := writeTarget(conn, address); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send target: %w", err)
	}
	var status [1]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read relay status: %w", err)
	}
	if status[0] != statusOK {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrTargetRejected, address)
	}

	_ = conn.SetDeadline(time.Time{})
	c.logger.Debug("Tunnel stream open", "target", address, "mode", c.obfs.Mode.String())
	return conn, nil
}

// Server returns the relay address this client dials.
func (c *Client) Server() string {
	return c.server
}
