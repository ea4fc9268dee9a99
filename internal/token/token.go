// Package token generates and checks the opaque bearer strings used by the
// session and reset registries. Tokens are raw random bytes, base64url
// encoded without padding, so they are safe in headers and URLs.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const rawSize = 32

// ErrMalformed is returned by Check for strings that cannot be a token
// produced by New.
var ErrMalformed = errors.New("malformed token")

// New returns a fresh unguessable token string.
func New() (string, error) {
	var raw [rawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Check validates the shape of a candidate token without touching any store.
// Registries use it to reject garbage before a map lookup.
func Check(s string) error {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ErrMalformed
	}
	if len(raw) != rawSize {
		return ErrMalformed
	}
	return nil
}
