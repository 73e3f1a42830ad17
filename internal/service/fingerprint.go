package service

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const sessionTokenBytes = 32

// FingerprintUserAgent returns the stored hash form of a user agent.
func FingerprintUserAgent(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])
}

// newSessionToken returns an opaque bearer secret scoped to one session.
func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
