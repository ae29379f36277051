// Package obfs implements the reversible framing that disguises tunnel
// payloads as other protocols: a rolling XOR, fake TLS application-data
// records and fake DNS queries.
//
// The byte layouts are a contract with the peer. Mode and key material are
// agreed out of band; nothing here is negotiated in-band.
package obfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrEmptyInput       = errors.New("obfs: empty input")
	ErrOversizedPayload = errors.New("obfs: payload too large for frame")
	ErrTruncatedFrame   = errors.New("obfs: truncated frame")
	ErrMalformedFrame   = errors.New("obfs: malformed frame")
	ErrSequenceMismatch = errors.New("obfs: sequence mismatch")
	ErrUnknownMode      = errors.New("obfs: unknown mode")

	errNilSession = errors.New("obfs: session required for counter-based modes")
)

const (
	// TLSHeaderLen is the record marker plus the big-endian length.
	TLSHeaderLen = 5
	// TLSMaxPayload is the largest payload a single TLS mimic frame carries.
	TLSMaxPayload = 0xFFFF
	tlsPadModulus = 32

	// DNSMaxFrame is the classic UDP DNS message ceiling.
	DNSMaxFrame    = 512
	dnsHeaderLen   = 12
	dnsQuestionLen = 17
	// DNSMaxPayload is what is left of a DNS mimic frame after the header,
	// the question and the length field. Longer payloads are cut.
	DNSMaxPayload = DNSMaxFrame - dnsHeaderLen - dnsQuestionLen - 2
)

var (
	xorBaseKey      = [4]byte{0xAA, 0x55, 0xAA, 0x55}
	tlsRecordMarker = [3]byte{0x17, 0x03, 0x03}
)

// Encode disguises payload using mode. Xor and TLS mimic consume the
// session's send counter; None and DNS mimic leave it alone and accept a nil
// session.
func Encode(mode Mode, s *Session, payload []byte) ([]byte, error) {
	switch mode {
	case ModeNone:
		return clone(payload), nil
	case ModeXor:
		if s == nil {
			return nil, errNilSession
		}
		if len(payload) == 0 {
			return nil, ErrEmptyInput
		}
		out := xorTransform(payload, s.send)
		s.send++
		return out, nil
	case ModeTLSMimic:
		if s == nil {
			return nil, errNilSession
		}
		frame, err := tlsWrap(payload, s.send)
		if err != nil {
			return nil, err
		}
		s.send++
		return frame, nil
	case ModeDNSMimic:
		return dnsWrap(payload), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
	}
}

// Decode reverses Encode. Xor and TLS mimic consume the session's receive
// counter on success. An Xor frame decoded at the wrong counter value comes
// back as garbage without an error; use Session.DecodeAt to catch that.
func Decode(mode Mode, s *Session, frame []byte) ([]byte, error) {
	switch mode {
	case ModeNone:
		return clone(frame), nil
	case ModeXor:
		if s == nil {
			return nil, errNilSession
		}
		if len(frame) == 0 {
			return nil, ErrEmptyInput
		}
		out := xorTransform(frame, s.recv)
		s.recv++
		return out, nil
	case ModeTLSMimic:
		if s == nil {
			return nil, errNilSession
		}
		payload, err := tlsUnwrap(frame)
		if err != nil {
			return nil, err
		}
		s.recv++
		return payload, nil
	case ModeDNSMimic:
		return dnsUnwrap(frame)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
	}
}

// xorTransform XORs data with the base key followed by the big-endian counter.
// It is its own inverse.
func xorTransform(data []byte, seq uint16) []byte {
	var key [8]byte
	copy(key[:4], xorBaseKey[:])
	binary.BigEndian.PutUint32(key[4:], uint32(seq))

	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// tlsPadding is the padding length the sender appends at counter seq.
func tlsPadding(seq uint16) int {
	return int(seq % tlsPadModulus)
}

func tlsWrap(payload []byte, seq uint16) ([]byte, error) {
	if len(payload) > TLSMaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrOversizedPayload, len(payload), TLSMaxPayload)
	}
	padLen := tlsPadding(seq)

	frame := make([]byte, 0, TLSHeaderLen+len(payload)+padLen)
	frame = append(frame, tlsRecordMarker[:]...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	for i := 0; i < padLen; i++ {
		frame = append(frame, byte(padLen))
	}
	return frame, nil
}

// tlsUnwrap returns the declared payload. Padding after it is not inspected.
func tlsUnwrap(frame []byte) ([]byte, error) {
	if len(frame) < TLSHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes, need a %d byte header", ErrTruncatedFrame, len(frame), TLSHeaderLen)
	}
	n := int(binary.BigEndian.Uint16(frame[3:TLSHeaderLen]))
	if len(frame) < TLSHeaderLen+n {
		return nil, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrTruncatedFrame, n, len(frame)-TLSHeaderLen)
	}
	return clone(frame[TLSHeaderLen : TLSHeaderLen+n]), nil
}

func dnsWrap(payload []byte) []byte {
	if len(payload) > DNSMaxPayload {
		payload = payload[:DNSMaxPayload]
	}
	frame := make([]byte, 0, len(dnsPrefix)+2+len(payload))
	frame = append(frame, dnsPrefix...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	return append(frame, payload...)
}

func dnsUnwrap(frame []byte) ([]byte, error) {
	if len(frame) <= dnsHeaderLen {
		return nil, fmt.Errorf("%w: no question section", ErrMalformedFrame)
	}
	null := bytes.IndexByte(frame[dnsHeaderLen:], 0)
	if null < 0 {
		return nil, fmt.Errorf("%w: question name is not terminated", ErrMalformedFrame)
	}
	// terminator + qtype + qclass
	questionEnd := dnsHeaderLen + null + 5
	if len(frame) < questionEnd+2 {
		return nil, fmt.Errorf("%w: missing payload length", ErrMalformedFrame)
	}
	n := int(binary.BigEndian.Uint16(frame[questionEnd : questionEnd+2]))
	start := questionEnd + 2
	if len(frame) < start+n {
		return nil, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrTruncatedFrame, n, len(frame)-start)
	}
	return clone(frame[start : start+n]), nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
