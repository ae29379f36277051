package socks

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-socks5"
)

const (
	addrTypeIPv4 = 0x01
	addrTypeFQDN = 0x03
	addrTypeIPv6 = 0x04
)

// ReadTarget reads the destination that follows a request header of the
// given address type.
func ReadTarget(r io.Reader, addrType byte) (*socks5.AddrSpec, error) {
	target := &socks5.AddrSpec{}

	switch addrType {
	case addrTypeIPv4:
		ip := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(r, ip); err != nil {
			return nil, fmt.Errorf("%w: reading IPv4 address: %v", ErrMalformedRequest, err)
		}
		target.IP = net.IP(ip)
	case addrTypeIPv6:
		ip := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(r, ip); err != nil {
			return nil, fmt.Errorf("%w: reading IPv6 address: %v", ErrMalformedRequest, err)
		}
		target.IP = net.IP(ip)
	case addrTypeFQDN:
		name, err := readLengthPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading domain name: %v", ErrMalformedRequest, err)
		}
		if len(name) == 0 {
			return nil, fmt.Errorf("%w: empty domain name", ErrMalformedRequest)
		}
		target.FQDN = string(name)
	default:
		return nil, fmt.Errorf("%w: address type %#x", ErrMalformedRequest, addrType)
	}

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return nil, fmt.Errorf("%w: reading port: %v", ErrMalformedRequest, err)
	}
	target.Port = int(binary.BigEndian.Uint16(port[:]))
	return target, nil
}

// idleTracker pushes the deadline of both relay ends forward on activity in
// either direction. After stop it only ever pulls deadlines to the past; mu
// keeps a touch that saw stopped == false from landing after stop.
type idleTracker struct {
	timeout time.Duration
	conns   [2]net.Conn

	mu      sync.Mutex
	stopped bool
}

func (t *idleTracker) touch() {
	if t.timeout <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	deadline := time.Now().Add(t.timeout)
	for _, c := range t.conns {
		_ = c.SetDeadline(deadline)
	}
}

func (t *idleTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	now := time.Now()
	for _, c := range t.conns {
		_ = c.SetDeadline(now)
	}
}

type idleConn struct {
	net.Conn
	tracker *idleTracker
}

func (c *idleConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.tracker.touch()
	}
	return n, err
}

func (c *idleConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.tracker.touch()
	}
	return n, err
}

// RelayResult reports how many bytes went each way.
type RelayResult struct {
	Up   int64 // client to upstream
	Down int64 // upstream to client
}

// Relay copies bytes between client and upstream until both directions end.
// A direction ending cleanly half-closes its destination; when the
// destination cannot half-close, or a direction fails (idle timeout
// included), both directions are torn down. Neither connection is closed
// here. A zero idle disables the timeout.
func Relay(client, upstream net.Conn, idle time.Duration) (RelayResult, error) {
	tracker := &idleTracker{timeout: idle, conns: [2]net.Conn{client, upstream}}
	tracker.touch()
	src := [2]net.Conn{&idleConn{client, tracker}, &idleConn{upstream, tracker}}
	dst := [2]net.Conn{upstream, client}

	var counts [2]atomic.Int64
	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			n, err := io.Copy(&idleConn{dst[i], tracker}, src[i])
			counts[i].Add(n)
			if err == nil && !closeWrite(dst[i]) {
				tracker.stop()
			}
			errc <- err
		}(i)
	}

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
			tracker.stop()
		}
	}

	res := RelayResult{Up: counts[0].Load(), Down: counts[1].Load()}
	if isClosedOrTimeout(firstErr) {
		return res, nil
	}
	return res, firstErr
}

// closeWrite half-closes c and reports whether that worked.
func closeWrite(c net.Conn) bool {
	cw, ok := c.(interface{ CloseWrite() error })
	if !ok {
		return false
	}
	return cw.CloseWrite() == nil
}

// isClosedOrTimeout reports the errors that are a normal end of a relay.
func isClosedOrTimeout(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
