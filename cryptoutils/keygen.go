package cryptoutils

import (
	"crypto/rand"
	"fmt"
)

// RandomPayload returns size bytes drawn from the platform CSPRNG. This is
// the stand-in for a QKD link: callers treat the output as shared secret
// material and must never log or cache it.
func RandomPayload(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid payload size %d", size)
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("could not read random source: %w", err)
	}
	return buf, nil
}
