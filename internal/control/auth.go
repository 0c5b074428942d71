// Package control exposes the authenticated REST surface that lets external
// callers mutate the live dashboard state.
package control

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
)

var (
	// ErrDisabled means the control API is administratively off; it wins
	// over any credential check.
	ErrDisabled = errors.New("control API is disabled")
	// ErrMissingKey means the request carried no API key in either
	// accepted header form.
	ErrMissingKey = errors.New("missing API key")
	// ErrInvalidKey means the supplied key does not match the configured
	// key exactly.
	ErrInvalidKey = errors.New("invalid API key")
)

// AuthConfig is the process-wide API credential. Writes come only from the
// settings surface; reads happen on every request. Last write wins.
type AuthConfig struct {
	mu      sync.RWMutex
	key     string
	enabled bool
}

// NewAuthConfig returns an AuthConfig with the given key and enabled flag.
func NewAuthConfig(key string, enabled bool) *AuthConfig {
	return &AuthConfig{key: key, enabled: enabled}
}

// Set replaces the key and enabled flag. A regenerated key invalidates the
// previous one immediately; there is no rotation overlap.
func (a *AuthConfig) Set(key string, enabled bool) {
	a.mu.Lock()
	a.key = key
	a.enabled = enabled
	a.mu.Unlock()
}

// Enabled reports whether the control API accepts requests at all.
func (a *AuthConfig) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Authenticate checks a provided key against the configuration. The disabled
// check runs first regardless of the credential.
func (a *AuthConfig) Authenticate(provided string) error {
	a.mu.RLock()
	key, enabled := a.key, a.enabled
	a.mu.RUnlock()

	if !enabled {
		return ErrDisabled
	}
	if provided == "" {
		return ErrMissingKey
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
		return ErrInvalidKey
	}
	return nil
}

// GenerateKey returns a fresh API key: 32 cryptographically random bytes as
// a 64-character hex string.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// keyFromRequest extracts the API key from X-API-Key or a bearer token.
func keyFromRequest(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
