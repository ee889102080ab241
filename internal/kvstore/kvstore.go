// Package kvstore provides the shared mutable state the session layer needs:
// revocation entries, CSRF tokens, and rate-limit windows. It is an explicit,
// injected store with per-key atomic operations and TTL eviction so the
// memory implementation can be swapped for a distributed one without
// touching call sites.
package kvstore

import (
	"sync"
	"time"
)

// Store is a key-value store with per-entry TTL. Expired entries behave as
// absent; eviction may be lazy. All operations are safe for concurrent use
// and atomic per key.
type Store interface {
	// Set stores value under key for ttl. A zero ttl means no expiry.
	Set(key string, value []byte, ttl time.Duration)
	// Get returns the value for key, or ok=false if absent or expired.
	Get(key string) (value []byte, ok bool)
	// Delete removes key.
	Delete(key string)
	// Window appends now to the timestamp list under key, prunes entries
	// older than window, and returns the resulting count. The whole
	// read-prune-append sequence is atomic for the key.
	Window(key string, now time.Time, window time.Duration) int
}

type entry struct {
	value     []byte
	expiresAt time.Time
	window    []time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is the in-process Store. Expired entries are evicted lazily on
// access and opportunistically on write once the map grows past a threshold.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	sweepAt int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: map[string]*entry{}, sweepAt: 1024}
}

func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	m.maybeSweep()
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) Window(key string, now time.Time, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	cutoff := now.Add(-window)
	kept := e.window[:0]
	for _, t := range e.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.window = append(kept, now)
	// The window entry expires once every timestamp in it has aged out,
	// which bounds memory for identifiers that stop arriving.
	e.expiresAt = now.Add(window)
	m.maybeSweep()
	return len(e.window)
}

// maybeSweep drops expired entries when the map has grown large.
// Caller must hold mu.
func (m *Memory) maybeSweep() {
	if len(m.entries) < m.sweepAt {
		return
	}
	now := time.Now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
	m.sweepAt = len(m.entries)*2 + 1024
}
