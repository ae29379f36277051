package obfs

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	passthroughChunk = 32 * 1024
	// maxDNSNameLen bounds the question name scan on streams.
	maxDNSNameLen = 255
)

// Option configures a Conn.
type Option func(*Conn)

// WithSealer encrypts every chunk before it is framed.
func WithSealer(s *Sealer) Option {
	return func(c *Conn) {
		c.sealer = s
	}
}

// Conn frames everything written to it and deframes everything read from it.
//
// TLS and DNS mimic frames are self-delimiting. Xor frames (and sealed frames
// in None mode) are not, so on a stream they travel behind a two-byte
// big-endian length prefix.
//
// One goroutine may read while another writes; the directions use separate
// counters.
type Conn struct {
	net.Conn
	session *Session
	sealer  *Sealer
	r       *bufio.Reader

	rmu     sync.Mutex
	pending []byte

	wmu sync.Mutex
}

// NewConn wraps c. The session must not be used elsewhere afterwards.
func NewConn(c net.Conn, s *Session, opts ...Option) *Conn {
	conn := &Conn{
		Conn:    c,
		session: s,
		r:       bufio.NewReader(c),
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// Session exposes the underlying session, mainly for inspecting counters.
func (c *Conn) Session() *Session { return c.session }

func (c *Conn) passthrough() bool {
	return c.session.Mode() == ModeNone && c.sealer == nil
}

func (c *Conn) lengthPrefixed() bool {
	switch c.session.Mode() {
	case ModeXor:
		return true
	case ModeNone:
		return c.sealer != nil
	}
	return false
}

// maxChunk is the largest plaintext slice that fits one frame.
func (c *Conn) maxChunk() int {
	var n int
	switch c.session.Mode() {
	case ModeDNSMimic:
		n = DNSMaxPayload
	case ModeTLSMimic, ModeXor:
		n = TLSMaxPayload
	default:
		n = passthroughChunk
	}
	if c.sealer != nil {
		n -= SealOverhead
	}
	return n
}

// Write splits p into frames. On error the returned count covers only the
// chunks fully handed to the underlying connection.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.passthrough() {
		return c.Conn.Write(p)
	}

	limit := c.maxChunk()
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > limit {
			chunk = chunk[:limit]
		}

		payload := chunk
		if c.sealer != nil {
			sealed, err := c.sealer.Seal(chunk)
			if err != nil {
				return written, err
			}
			payload = sealed
		}

		frame, err := c.session.Encode(payload)
		if err != nil {
			return written, err
		}
		if c.lengthPrefixed() {
			frame = append(binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(frame)), uint16(len(frame))), frame...)
		}

		if _, err := c.Conn.Write(frame); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// CloseWrite half-closes the underlying connection when it supports that.
func (c *Conn) CloseWrite() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}

// Read returns payload bytes from at most one frame.
func (c *Conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if c.passthrough() && len(c.pending) == 0 {
		return c.r.Read(p)
	}

	for len(c.pending) == 0 {
		payload, err := c.readFrame()
		if err != nil {
			return 0, err
		}
		if c.sealer != nil {
			payload, err = c.sealer.Open(payload)
			if err != nil {
				return 0, err
			}
		}
		c.pending = payload
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Conn) readFrame() ([]byte, error) {
	if c.lengthPrefixed() {
		var hdr [2]byte
		if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
			return nil, err
		}
		frame := make([]byte, binary.BigEndian.Uint16(hdr[:]))
		if _, err := io.ReadFull(c.r, frame); err != nil {
			return nil, unexpected(err)
		}
		return c.session.Decode(frame)
	}

	switch c.session.Mode() {
	case ModeTLSMimic:
		return c.readTLSFrame()
	case ModeDNSMimic:
		return c.readDNSFrame()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, c.session.Mode())
	}
}

// readTLSFrame reads header, payload and the padding the peer appended at the
// receive counter's current value.
func (c *Conn) readTLSFrame() ([]byte, error) {
	hdr := make([]byte, TLSHeaderLen)
	if _, err := io.ReadFull(c.r, hdr); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[3:TLSHeaderLen]))
	pad := tlsPadding(c.session.RecvSeq())

	frame := make([]byte, TLSHeaderLen+n+pad)
	copy(frame, hdr)
	if _, err := io.ReadFull(c.r, frame[TLSHeaderLen:]); err != nil {
		return nil, unexpected(err)
	}
	return c.session.Decode(frame)
}

func (c *Conn) readDNSFrame() ([]byte, error) {
	frame := make([]byte, dnsHeaderLen, DNSMaxFrame)
	if _, err := io.ReadFull(c.r, frame); err != nil {
		return nil, err
	}

	for nameLen := 0; ; nameLen++ {
		if nameLen > maxDNSNameLen {
			return nil, fmt.Errorf("%w: question name exceeds %d bytes", ErrMalformedFrame, maxDNSNameLen)
		}
		b, err := c.r.ReadByte()
		if err != nil {
			return nil, unexpected(err)
		}
		frame = append(frame, b)
		if b == 0 {
			break
		}
	}

	// qtype, qclass, payload length
	var tail [6]byte
	if _, err := io.ReadFull(c.r, tail[:]); err != nil {
		return nil, unexpected(err)
	}
	frame = append(frame, tail[:]...)

	payload := make([]byte, binary.BigEndian.Uint16(tail[4:]))
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, unexpected(err)
	}
	return c.session.Decode(append(frame, payload...))
}

// unexpected turns a clean EOF in the middle of a frame into ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
