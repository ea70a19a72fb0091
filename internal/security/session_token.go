package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Session token entropy bounds, in bytes.
const (
	MinSessionTokenBytes = 32
	MaxSessionTokenBytes = 64
)

// fingerprintLen is the number of hex characters of the token hash kept in logs.
const fingerprintLen = 12

// NewSessionToken returns nBytes of crypto/rand output encoded as unpadded base64url.
// The result is safe to place in headers and URLs.
func NewSessionToken(nBytes int) (string, error) {
	if nBytes < MinSessionTokenBytes || nBytes > MaxSessionTokenBytes {
		return "", fmt.Errorf("session token size %d out of range [%d,%d]", nBytes, MinSessionTokenBytes, MaxSessionTokenBytes)
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SessionTokenGenerator validates nBytes once and returns a generator for the registry.
func SessionTokenGenerator(nBytes int) (func() (string, error), error) {
	if _, err := NewSessionToken(nBytes); err != nil {
		return nil, err
	}
	return func() (string, error) { return NewSessionToken(nBytes) }, nil
}

// HashSessionToken returns the hex-encoded SHA-256 of token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Fingerprint returns a short, non-reversible identifier for token for use in logs,
// audit entries and events. Raw tokens must never be logged.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	return HashSessionToken(token)[:fingerprintLen]
}
