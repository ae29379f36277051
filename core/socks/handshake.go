// Package socks implements the local SOCKS5 listener: a small handshake state
// machine plus the relay that takes over once a connection is established.
package socks

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/armon/go-socks5"
)

var (
	ErrVersionMismatch  = errors.New("socks: unsupported protocol version")
	ErrAuthRequired     = errors.New("socks: client offered no acceptable auth method")
	ErrAuthFailed       = errors.New("socks: authentication failed")
	ErrMalformedRequest = errors.New("socks: malformed request")

	errHandshakeDone = errors.New("socks: handshake already finished")
)

const (
	socksVersion    = 0x05
	authVersion     = 0x01
	authSuccess     = 0x00
	authFailure     = 0x01
	noAcceptable    = 0xFF
	requestHeaderSz = 4
)

// connectReply is sent for every accepted request: success, IPv4 0.0.0.0:0.
var connectReply = []byte{socksVersion, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}

// Phase is the position of a connection in the handshake.
type Phase int

const (
	PhaseAwaitGreeting Phase = iota
	PhaseAwaitAuth
	PhaseAwaitRequest
	PhaseEstablished
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitGreeting:
		return "await-greeting"
	case PhaseAwaitAuth:
		return "await-auth"
	case PhaseAwaitRequest:
		return "await-request"
	case PhaseEstablished:
		return "established"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Request is the fixed four-byte header of a client request. The address
// that follows it is left on the wire for the relay.
type Request struct {
	Version  byte
	Command  byte
	Reserved byte
	AddrType byte
}

// Handshake is the per-connection state. It is not safe for concurrent use.
type Handshake struct {
	phase    Phase
	creds    socks5.CredentialStore
	username string
	request  Request
	err      error
}

// NewHandshake starts in PhaseAwaitGreeting. A nil store disables
// username/password authentication.
func NewHandshake(creds socks5.CredentialStore) *Handshake {
	return &Handshake{phase: PhaseAwaitGreeting, creds: creds}
}

// Phase returns the current state.
func (h *Handshake) Phase() Phase { return h.phase }

// Request is valid once the phase reached PhaseEstablished.
func (h *Handshake) Request() Request { return h.request }

// Username is the authenticated user, empty without auth.
func (h *Handshake) Username() string { return h.username }

// Err is the error that closed the handshake, if any.
func (h *Handshake) Err() error { return h.err }

// Close moves an established (or failed) session to PhaseClosed.
func (h *Handshake) Close() {
	h.phase = PhaseClosed
}

// Run steps until the session is established or closed.
func (h *Handshake) Run(rw io.ReadWriter) error {
	for h.phase != PhaseEstablished && h.phase != PhaseClosed {
		if err := h.Step(rw, rw); err != nil {
			return err
		}
	}
	return h.err
}

// Step consumes exactly one phase worth of input from r and writes the
// matching reply to w.
func (h *Handshake) Step(r io.Reader, w io.Writer) error {
	switch h.phase {
	case PhaseAwaitGreeting:
		return h.greeting(r, w)
	case PhaseAwaitAuth:
		return h.auth(r, w)
	case PhaseAwaitRequest:
		return h.readRequest(r, w)
	case PhaseClosed:
		if h.err != nil {
			return h.err
		}
		return errHandshakeDone
	default:
		return errHandshakeDone
	}
}

func (h *Handshake) greeting(r io.Reader, w io.Writer) error {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return h.fail(fmt.Errorf("%w: reading version: %v", ErrMalformedRequest, err))
	}
	if version[0] != socksVersion {
		return h.fail(fmt.Errorf("%w: got %#x", ErrVersionMismatch, version[0]))
	}

	methods, err := readLengthPrefixed(r)
	if err != nil {
		return h.fail(fmt.Errorf("%w: reading methods: %v", ErrMalformedRequest, err))
	}

	if h.creds == nil {
		if err := h.reply(w, socksVersion, socks5.NoAuth); err != nil {
			return err
		}
		h.phase = PhaseAwaitRequest
		return nil
	}

	// RFC 1928: a client that cannot do username/password gets 0xFF and is dropped.
	if !bytes.Contains(methods, []byte{socks5.UserPassAuth}) {
		if err := h.reply(w, socksVersion, noAcceptable); err != nil {
			return err
		}
		return h.fail(ErrAuthRequired)
	}
	if err := h.reply(w, socksVersion, socks5.UserPassAuth); err != nil {
		return err
	}
	h.phase = PhaseAwaitAuth
	return nil
}

func (h *Handshake) auth(r io.Reader, w io.Writer) error {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return h.fail(fmt.Errorf("%w: reading auth version: %v", ErrMalformedRequest, err))
	}
	if version[0] != authVersion {
		return h.fail(fmt.Errorf("%w: auth version %#x", ErrMalformedRequest, version[0]))
	}

	user, err := readLengthPrefixed(r)
	if err != nil {
		return h.fail(fmt.Errorf("%w: reading username: %v", ErrMalformedRequest, err))
	}
	pass, err := readLengthPrefixed(r)
	if err != nil {
		return h.fail(fmt.Errorf("%w: reading password: %v", ErrMalformedRequest, err))
	}

	if !h.creds.Valid(string(user), string(pass)) {
		if err := h.reply(w, authVersion, authFailure); err != nil {
			return err
		}
		return h.fail(fmt.Errorf("%w: user %q", ErrAuthFailed, user))
	}
	if err := h.reply(w, authVersion, authSuccess); err != nil {
		return err
	}
	h.username = string(user)
	h.phase = PhaseAwaitRequest
	return nil
}

func (h *Handshake) readRequest(r io.Reader, w io.Writer) error {
	var hdr [requestHeaderSz]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return h.fail(fmt.Errorf("%w: reading request header: %v", ErrMalformedRequest, err))
	}
	if hdr[0] != socksVersion {
		return h.fail(fmt.Errorf("%w: request version %#x", ErrMalformedRequest, hdr[0]))
	}

	h.request = Request{Version: hdr[0], Command: hdr[1], Reserved: hdr[2], AddrType: hdr[3]}
	if err := h.reply(w, connectReply...); err != nil {
		return err
	}
	h.phase = PhaseEstablished
	return nil
}

func (h *Handshake) reply(w io.Writer, b ...byte) error {
	if _, err := w.Write(b); err != nil {
		return h.fail(fmt.Errorf("socks: writing reply: %w", err))
	}
	return nil
}

func (h *Handshake) fail(err error) error {
	h.phase = PhaseClosed
	h.err = err
	return err
}

// readLengthPrefixed reads a one-byte length followed by that many bytes.
func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var n [1]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, n[0])
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
