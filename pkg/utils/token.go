package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// NewStateToken generates a URL-safe opaque token carrying 24 bytes of
// entropy, used as the single-use OAuth state value.
func NewStateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
