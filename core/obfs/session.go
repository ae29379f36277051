package obfs

import "fmt"

// Session carries the per-stream state of the codec: the mode, the shared key
// and one sequence counter per direction. Encode advances the send counter and
// Decode advances the receive counter, so a peer's send side pairs with the
// other peer's receive side. A Session must not be shared by concurrent
// writers or concurrent readers.
type Session struct {
	mode Mode
	key  []byte
	send uint16
	recv uint16
}

// NewSession creates a session with both counters at zero.
func NewSession(mode Mode, key []byte) *Session {
	k := make([]byte, len(key))
	copy(k, key)
	return &Session{mode: mode, key: k}
}

// Mode returns the session's default mode.
func (s *Session) Mode() Mode { return s.mode }

// SetMode switches the default mode. Counters are kept.
func (s *Session) SetMode(mode Mode) error {
	if _, ok := modeNames[mode]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
	}
	s.mode = mode
	return nil
}

// Key returns a copy of the shared key.
func (s *Session) Key() []byte {
	k := make([]byte, len(s.key))
	copy(k, s.key)
	return k
}

// SendSeq is the counter value the next Encode will use.
func (s *Session) SendSeq() uint16 { return s.send }

// RecvSeq is the counter value the next Decode will use.
func (s *Session) RecvSeq() uint16 { return s.recv }

// Encode frames payload with the session's mode.
func (s *Session) Encode(payload []byte) ([]byte, error) {
	return Encode(s.mode, s, payload)
}

// Decode unwraps frame with the session's mode.
func (s *Session) Decode(frame []byte) ([]byte, error) {
	return Decode(s.mode, s, frame)
}

// DecodeAt is Decode with an explicit expectation about which peer counter
// produced frame. A mismatch is reported instead of yielding garbage.
func (s *Session) DecodeAt(seq uint16, frame []byte) ([]byte, error) {
	if seq != s.recv {
		return nil, fmt.Errorf("%w: frame is #%d, receiver is at #%d", ErrSequenceMismatch, seq, s.recv)
	}
	return s.Decode(frame)
}
