package obfs

import (
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/sourceshift/veiltun/pkg/securerandom"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length of keys produced by DeriveKey.
	KeySize = chacha20poly1305.KeySize
	// SaltSize is the length of salts produced by NewSalt.
	SaltSize = 16
	// SealOverhead is the number of bytes Seal adds to a plaintext.
	SealOverhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

	kdfIterations = 100000
)

// ErrUnsealFailed is returned when a sealed payload fails authentication.
var ErrUnsealFailed = errors.New("obfs: unseal failed")

// DeriveKey stretches a passphrase into a KeySize key with PBKDF2-HMAC-SHA256.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, KeySize, sha256.New)
}

// NewSalt returns a fresh random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	return securerandom.GetRandomBytes(SaltSize)
}

// Sealer encrypts payloads with XChaCha20-Poly1305 before they are framed.
// Framing alone hides the shape of traffic, not its content.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a sealer from a KeySize key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if err := securerandom.Bytes(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the seal overhead", ErrUnsealFailed, len(sealed))
	}
	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return plaintext, nil
}
