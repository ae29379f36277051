package obfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("fixed-salt-value")
	a := DeriveKey("passphrase", salt)
	b := DeriveKey("passphrase", salt)
	c := DeriveKey("passphrase", []byte("another-salt-val"))

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSealer_RoundTrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)

	s, err := NewSealer(DeriveKey("pw", salt))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	assert.Len(t, sealed, len("payload")+SealOverhead)

	again, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plain)
}

func TestSealer_WrongKey(t *testing.T) {
	a, err := NewSealer(DeriveKey("a", []byte("s")))
	require.NoError(t, err)
	b, err := NewSealer(DeriveKey("b", []byte("s")))
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("payload"))
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrUnsealFailed)

	_, err = b.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrUnsealFailed)
}

func TestNewSealer_BadKey(t *testing.T) {
	_, err := NewSealer([]byte("too short"))
	assert.Error(t, err)
}
