package control

import (
	"errors"
	"net/http/httptest"
	"regexp"
	"testing"
)

func TestAuthConfig_precedence(t *testing.T) {
	const key = "secret"

	tests := []struct {
		name     string
		enabled  bool
		provided string
		want     error
	}{
		{"disabled beats valid key", false, key, ErrDisabled},
		{"disabled beats missing key", false, "", ErrDisabled},
		{"enabled missing key", true, "", ErrMissingKey},
		{"enabled wrong key", true, "nope", ErrInvalidKey},
		{"enabled key prefix is not a match", true, "sec", ErrInvalidKey},
		{"enabled correct key", true, key, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthConfig(key, tt.enabled)
			err := a.Authenticate(tt.provided)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authenticate(%q) = %v, want %v", tt.provided, err, tt.want)
			}
		})
	}
}

func TestAuthConfig_regenerateInvalidatesOldKey(t *testing.T) {
	a := NewAuthConfig("old", true)
	a.Set("new", true)
	if err := a.Authenticate("old"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("old key should be rejected immediately, got %v", err)
	}
	if err := a.Authenticate("new"); err != nil {
		t.Errorf("new key should pass, got %v", err)
	}
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(k1) {
		t.Errorf("key should be 64 hex chars, got %q", k1)
	}
	k2, _ := GenerateKey()
	if k1 == k2 {
		t.Error("two generated keys should differ")
	}
}

func TestKeyFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/streams", nil)
	if got := keyFromRequest(r); got != "" {
		t.Errorf("no headers should yield empty key, got %q", got)
	}

	r.Header.Set("X-API-Key", "abc")
	if got := keyFromRequest(r); got != "abc" {
		t.Errorf("X-API-Key not extracted: %q", got)
	}

	r = httptest.NewRequest("GET", "/api/streams", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	if got := keyFromRequest(r); got != "xyz" {
		t.Errorf("bearer token not extracted: %q", got)
	}

	// X-API-Key wins when both are present.
	r.Header.Set("X-API-Key", "abc")
	if got := keyFromRequest(r); got != "abc" {
		t.Errorf("X-API-Key should take precedence, got %q", got)
	}
}
