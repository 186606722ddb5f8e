package registry

import (
	"sync"
	"time"

	"github.com/zlnvch/doodleup/models"
)

// UnknownOwner is reported in place of a display name whose identity has
// been evicted.
const UnknownOwner = "Unknown"

type identityEntry struct {
	mu       sync.Mutex
	identity models.Identity
}

// IdentityRegistry owns every known identity profile. The map lock only
// guards membership; each entry carries its own lock for last-active updates.
type IdentityRegistry struct {
	mu      sync.RWMutex
	entries map[string]*identityEntry
}

func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{entries: make(map[string]*identityEntry)}
}

// Register inserts or replaces the profile stored under identity.Key.
func (r *IdentityRegistry) Register(identity models.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[identity.Key] = &identityEntry{identity: identity}
}

func (r *IdentityRegistry) Get(key string) (models.Identity, bool) {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return models.Identity{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.identity, true
}

// Touch bumps last-active for key. It never moves the timestamp backwards
// and reports false when the identity is unknown.
func (r *IdentityRegistry) Touch(key string, at time.Time) bool {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	if at.After(entry.identity.LastActive) {
		entry.identity.LastActive = at
	}
	entry.mu.Unlock()
	return true
}

// Ensure returns the stored profile for claimed.Key with last-active set to
// at, recreating it from claimed when it is missing (e.g. after a restart or
// an eviction of a still-valid credential).
func (r *IdentityRegistry) Ensure(claimed models.Identity, at time.Time) models.Identity {
	if r.Touch(claimed.Key, at) {
		if identity, ok := r.Get(claimed.Key); ok {
			return identity
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[claimed.Key]; ok {
		// Lost a race with another Ensure for the same key.
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if at.After(entry.identity.LastActive) {
			entry.identity.LastActive = at
		}
		return entry.identity
	}

	claimed.LastActive = at
	r.entries[claimed.Key] = &identityEntry{identity: claimed}
	return claimed
}

// DisplayName resolves key to a display name, or UnknownOwner.
func (r *IdentityRegistry) DisplayName(key string) string {
	identity, ok := r.Get(key)
	if !ok {
		return UnknownOwner
	}
	return identity.DisplayName
}

// SweepInactive removes every identity whose last-active is before cutoff
// and returns how many were removed.
func (r *IdentityRegistry) SweepInactive(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, entry := range r.entries {
		entry.mu.Lock()
		stale := entry.identity.LastActive.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

func (r *IdentityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
