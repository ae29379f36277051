// Package securerandom wraps crypto/rand for the few places that need random
// numbers: backoff jitter, sealer nonces and key salts. There is
// no math/rand fallback.
package securerandom

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Int returns a cryptographically secure random integer in the range [min, max].
func Int(min, max int) (int, error) {
	if min < 0 || max < 0 {
		return 0, fmt.Errorf("crypto/rand does not support negative numbers (got min=%d, max=%d)", min, max)
	}
	if min > max {
		return 0, fmt.Errorf("min cannot be greater than max (got min=%d, max=%d)", min, max)
	}
	if min == max {
		return min, nil
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate crypto/rand integer: %w", err)
	}
	return int(n.Int64()) + min, nil
}

// Duration returns a random duration in [min, max].
func Duration(min, max time.Duration) (time.Duration, error) {
	if min > max {
		return 0, fmt.Errorf("min duration cannot be greater than max")
	}
	if min == max {
		return min, nil
	}
	ns, err := Int(int(min.Nanoseconds()), int(max.Nanoseconds()))
	if err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}

// Bytes fills b from crypto/rand.
func Bytes(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("failed to generate secure random bytes: %w", err)
	}
	return nil
}

// GetRandomBytes returns n cryptographically secure random bytes.
func GetRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := Bytes(b); err != nil {
		return nil, err
	}
	return b, nil
}
