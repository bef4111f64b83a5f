package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// NewCSRFToken returns a random token set as a cookie on authenticated
// responses; mutating requests must echo it back.
func NewCSRFToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CheckCSRF compares tokens in constant time.
func CheckCSRF(cookie, presented string) bool {
	if cookie == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie), []byte(presented)) == 1
}

// NewRandomValue returns a random hex string for single-use tokens
// (email verification, password reset).
func NewRandomValue() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
