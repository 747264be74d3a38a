package provider

import (
	"errors"
	"sync"
)

// ErrNoKeys is returned when NewAuthProfile is called without any keys.
var ErrNoKeys = errors.New("auth profile requires at least one key")

// AuthProfile holds the API keys of one provider. The chain rotates to the
// next key whenever the provider reports a rate limit; the provider reads
// CurrentKey on every request.
type AuthProfile struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewAuthProfile creates an AuthProfile with the given keys.
func NewAuthProfile(keys ...string) (*AuthProfile, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return &AuthProfile{keys: keys}, nil
}

// CurrentKey returns the active key.
func (a *AuthProfile) CurrentKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keys[a.idx]
}

// Rotate advances to the next key, wrapping around. It reports false when
// there is nothing to rotate to.
func (a *AuthProfile) Rotate() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.keys) <= 1 {
		return false
	}
	a.idx = (a.idx + 1) % len(a.keys)
	return true
}

// CurrentIndex returns the zero-based index of the active key.
func (a *AuthProfile) CurrentIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idx
}

// Keys returns a copy of every configured key, for log redaction.
func (a *AuthProfile) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}
