// Package stats keeps process-wide traffic counters for the proxy and relay.
package stats

import (
	"sync/atomic"
	"time"
)

// Counters is safe for concurrent use. The zero value is ready.
type Counters struct {
	bytesUp           atomic.Int64
	bytesDown         atomic.Int64
	connsActive       atomic.Int64
	connsTotal        atomic.Int64
	handshakeFailures atomic.Int64
	dialFailures      atomic.Int64
	started           atomic.Int64
}

// Snapshot is a copy of the counters at one instant.
type Snapshot struct {
	BytesUp           int64
	BytesDown         int64
	ConnsActive       int64
	ConnsTotal        int64
	HandshakeFailures int64
	DialFailures      int64
	Uptime            time.Duration
}

// New returns counters with the uptime clock started.
func New() *Counters {
	c := &Counters{}
	c.started.Store(time.Now().UnixNano())
	return c
}

// ConnOpened counts a new active connection.
func (c *Counters) ConnOpened() {
	c.connsActive.Add(1)
	c.connsTotal.Add(1)
}

// ConnClosed releases an active connection.
func (c *Counters) ConnClosed() {
	c.connsActive.Add(-1)
}

// HandshakeFailed counts a client that never reached the relay phase.
func (c *Counters) HandshakeFailed() {
	c.handshakeFailures.Add(1)
}

// DialFailed counts an upstream dial error.
func (c *Counters) DialFailed() {
	c.dialFailures.Add(1)
}

// AddTraffic records bytes sent towards the tunnel (up) and back (down).
func (c *Counters) AddTraffic(up, down int64) {
	c.bytesUp.Add(up)
	c.bytesDown.Add(down)
}

// Snapshot copies the counters. Fields are read one by one, not atomically as
// a group.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		BytesUp:           c.bytesUp.Load(),
		BytesDown:         c.bytesDown.Load(),
		ConnsActive:       c.connsActive.Load(),
		ConnsTotal:        c.connsTotal.Load(),
		HandshakeFailures: c.handshakeFailures.Load(),
		DialFailures:      c.dialFailures.Load(),
	}
	if started := c.started.Load(); started != 0 {
		s.Uptime = time.Since(time.Unix(0, started))
	}
	return s
}
