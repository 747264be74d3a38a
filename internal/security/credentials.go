// Package security provides credential tracking, log and audit redaction,
// per-client rate limiting, and request body validation.
package security

import (
	"cmp"
	"maps"
	"slices"
	"sync"
)

// CredentialStore holds the API keys modules resolved at provision time,
// grouped by module ID. Every value it holds is masked in logs once the
// Redactor syncs with it.
type CredentialStore struct {
	mu   sync.RWMutex
	keys map[string][]string
}

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{keys: make(map[string][]string)}
}

// SetKeys replaces the keys held for module. Empty keys are skipped, and a
// module left with no keys is forgotten, so a reload that drops a key also
// drops it from the store.
func (s *CredentialStore) SetKeys(module string, keys ...string) {
	kept := slices.DeleteFunc(slices.Clone(keys), func(k string) bool { return k == "" })

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(kept) == 0 {
		delete(s.keys, module)
		return
	}
	s.keys[module] = kept
}

// Keys returns a copy of the keys held for module.
func (s *CredentialStore) Keys(module string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.keys[module])
}

// Modules returns the sorted IDs of modules holding at least one key.
func (s *CredentialStore) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.keys))
}

// Values returns every distinct key, longest first, so a key that contains
// another is replaced whole when redacting.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	var values []string
	for _, keys := range s.keys {
		values = append(values, keys...)
	}
	s.mu.RUnlock()

	slices.SortFunc(values, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return slices.Compact(values)
}
