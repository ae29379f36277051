package negotiate

import (
	"bytes"
	"errors"
	"net"

	"github.com/sourceshift/veiltun/pkg/logging"
)

// Responder answers probe datagrams on the server side of a candidate port.
type Responder struct {
	conn   net.PacketConn
	logger logging.Logger
}

// NewResponder listens for probes on addr, e.g. ":51820".
func NewResponder(addr string, logger logging.Logger) (*Responder, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Responder{
		conn:   conn,
		logger: logger.With("component", "responder", "addr", conn.LocalAddr().String()),
	}, nil
}

// Addr is the bound address.
func (r *Responder) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Serve answers "ping" with "pong" until Close is called. Other datagrams are
// dropped.
func (r *Responder) Serve() error {
	r.logger.Info("Probe responder listening")
	buf := make([]byte, maxReplySize)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !bytes.Equal(buf[:n], pingPayload) {
			r.logger.Debug("Dropping unexpected datagram", "from", from.String(), "size", n)
			continue
		}
		if _, err := r.conn.WriteTo(pongPayload, from); err != nil {
			r.logger.Warn("Failed to answer probe", "from", from.String(), "error", err)
		}
	}
}

// Close stops Serve and releases the socket.
func (r *Responder) Close() error {
	return r.conn.Close()
}
