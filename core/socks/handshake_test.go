package socks

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/armon/go-socks5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = socks5.StaticCredentials{"alice": "s3cret"}

func authMessage(user, pass string) []byte {
	b := []byte{0x01, byte(len(user))}
	b = append(b, user...)
	b = append(b, byte(len(pass)))
	return append(b, pass...)
}

type rwPair struct {
	io.Reader
	io.Writer
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

var (
	greetNoAuth   = []byte{0x05, 0x01, 0x00}
	greetUserPass = []byte{0x05, 0x02, 0x00, 0x02}
	connectHeader = []byte{0x05, 0x01, 0x00, 0x01}
)

func TestHandshake(t *testing.T) {
	tests := []struct {
		name      string
		creds     socks5.CredentialStore
		input     []byte
		wantErr   error
		wantReply []byte
		wantPhase Phase
	}{
		{
			name:      "NoAuth",
			input:     cat(greetNoAuth, connectHeader),
			wantReply: cat([]byte{0x05, 0x00}, connectReply),
			wantPhase: PhaseEstablished,
		},
		{
			name:      "VersionMismatch",
			input:     []byte{0x04, 0x01, 0x00, 0x01},
			wantErr:   ErrVersionMismatch,
			wantReply: []byte{},
			wantPhase: PhaseClosed,
		},
		{
			name:      "CorrectCredentials",
			creds:     testCreds,
			input:     cat(greetUserPass, authMessage("alice", "s3cret"), connectHeader),
			wantReply: cat([]byte{0x05, 0x02, 0x01, 0x00}, connectReply),
			wantPhase: PhaseEstablished,
		},
		{
			name:      "WrongPassword",
			creds:     testCreds,
			input:     cat(greetUserPass, authMessage("alice", "guess"), connectHeader),
			wantErr:   ErrAuthFailed,
			wantReply: []byte{0x05, 0x02, 0x01, 0x01},
			wantPhase: PhaseClosed,
		},
		{
			name:      "UnknownUser",
			creds:     testCreds,
			input:     cat(greetUserPass, authMessage("mallory", "s3cret")),
			wantErr:   ErrAuthFailed,
			wantReply: []byte{0x05, 0x02, 0x01, 0x01},
			wantPhase: PhaseClosed,
		},
		{
			name:      "AuthNotOffered",
			creds:     testCreds,
			input:     cat(greetNoAuth, connectHeader),
			wantErr:   ErrAuthRequired,
			wantReply: []byte{0x05, 0xFF},
			wantPhase: PhaseClosed,
		},
		{
			name:      "BadAuthVersion",
			creds:     testCreds,
			input:     cat(greetUserPass, []byte{0x05, 0x01, 'a', 0x01, 'b'}),
			wantErr:   ErrMalformedRequest,
			wantReply: []byte{0x05, 0x02},
			wantPhase: PhaseClosed,
		},
		{
			name:      "TruncatedPassword",
			creds:     testCreds,
			input:     cat(greetUserPass, []byte{0x01, 0x05, 'a', 'l', 'i', 'c', 'e', 0x06, 's'}),
			wantErr:   ErrMalformedRequest,
			wantReply: []byte{0x05, 0x02},
			wantPhase: PhaseClosed,
		},
		{
			name:      "Empty",
			input:     nil,
			wantErr:   ErrMalformedRequest,
			wantReply: []byte{},
			wantPhase: PhaseClosed,
		},
		{
			name:      "ShortMethodList",
			input:     []byte{0x05, 0x03, 0x00},
			wantErr:   ErrMalformedRequest,
			wantReply: []byte{},
			wantPhase: PhaseClosed,
		},
		{
			name:      "ShortRequest",
			input:     cat(greetNoAuth, []byte{0x05, 0x01}),
			wantErr:   ErrMalformedRequest,
			wantReply: []byte{0x05, 0x00},
			wantPhase: PhaseClosed,
		},
		{
			name:      "RequestVersionWrong",
			input:     cat(greetNoAuth, []byte{0x04, 0x01, 0x00, 0x01}),
			wantErr:   ErrMalformedRequest,
			wantReply: []byte{0x05, 0x00},
			wantPhase: PhaseClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			rw := rwPair{bytes.NewReader(tt.input), &out}

			h := NewHandshake(tt.creds)
			err := h.Run(rw)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, h.Err(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantReply, out.Bytes())
			assert.Equal(t, tt.wantPhase, h.Phase())
		})
	}
}

func TestHandshake_StepsThroughPhases(t *testing.T) {
	in := bytes.NewReader(cat(greetUserPass, authMessage("alice", "s3cret"), []byte{0x05, 0x01, 0x00, 0x03}))
	var out bytes.Buffer
	h := NewHandshake(testCreds)

	assert.Equal(t, PhaseAwaitGreeting, h.Phase())
	require.NoError(t, h.Step(in, &out))
	assert.Equal(t, PhaseAwaitAuth, h.Phase())
	require.NoError(t, h.Step(in, &out))
	assert.Equal(t, PhaseAwaitRequest, h.Phase())
	assert.Equal(t, "alice", h.Username())
	require.NoError(t, h.Step(in, &out))
	assert.Equal(t, PhaseEstablished, h.Phase())
	assert.Equal(t, Request{Version: 0x05, Command: 0x01, Reserved: 0x00, AddrType: 0x03}, h.Request())

	assert.Error(t, h.Step(in, &out), "an established handshake has nothing left to read")
	h.Close()
	assert.Equal(t, PhaseClosed, h.Phase())
}

func TestHandshake_VersionMismatchSendsNoConnectReply(t *testing.T) {
	in := bytes.NewReader(cat([]byte{0x04, 0x01, 0x00}, connectHeader))
	var out bytes.Buffer
	h := NewHandshake(nil)

	err := h.Step(in, &out)
	assert.ErrorIs(t, err, ErrVersionMismatch)
	assert.Zero(t, out.Len())

	// Further steps keep reporting the closing error.
	assert.ErrorIs(t, h.Step(in, &out), ErrVersionMismatch)
	assert.Zero(t, out.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestHandshake_WriteFailureCloses(t *testing.T) {
	h := NewHandshake(nil)
	err := h.Step(bytes.NewReader(greetNoAuth), failingWriter{})
	assert.Error(t, err)
	assert.Equal(t, PhaseClosed, h.Phase())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "await-greeting", PhaseAwaitGreeting.String())
	assert.Equal(t, "established", PhaseEstablished.String())
	assert.Equal(t, "closed", PhaseClosed.String())
}
