// Package registry maintains the participant set for one expense
// composition session.
//
// The registry is local and ephemeral: it is never persisted, only the
// participant names embedded in each created expense are. Adding a
// participant before any expense references them has no persisted
// effect. There is no removal; participants stay for the session.
package registry

import (
	"errors"
	"strings"
	"sync"
)

// ErrDuplicateParticipant is returned by Add when the trimmed name
// already exists in the registry. Matching is case-sensitive and exact.
var ErrDuplicateParticipant = errors.New("participant already exists")

// Registry is an ordered, deduplicated set of participant names.
// Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	names []string
	seen  map[string]bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{seen: make(map[string]bool)}
}

// Add inserts a participant name. Input is trimmed first. Empty or
// whitespace-only names are quietly discarded without error, mirroring
// the silent rejection callers expect from the composition flow. An
// exact duplicate returns ErrDuplicateParticipant and leaves the set
// unchanged.
func (r *Registry) Add(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[name] {
		return ErrDuplicateParticipant
	}
	r.seen[name] = true
	r.names = append(r.names, name)
	return nil
}

// Has reports whether the trimmed name is already registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[strings.TrimSpace(name)]
}

// List returns the participants in insertion order. Display order is
// meaningful; the list is never sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}
