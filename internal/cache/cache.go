// Package cache stores raw backend responses so identical generation
// requests can be answered without another remote call.
//
// [Memory] keeps entries in process; [Redis] shares them between replicas
// through go-redis. Both treat a miss and an expired entry the same way.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// KeyPrefix namespaces every key produced by [Key].
const KeyPrefix = "loreforge:gen:"

// Cache is a byte-oriented key/value store with per-entry expiry.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value for key. ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key for ttl. A non-positive ttl stores the
	// entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key derives a fixed-length key from parts.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// ── Memory ───────────────────────────────────────────────────────────────────

var _ Cache = (*Memory)(nil)

// DefaultMaxEntries bounds a Memory cache created with a non-positive size.
const DefaultMaxEntries = 1024

type memEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache. When full, expired entries are evicted
// first, then the entry closest to expiry.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	max     int
	now     func() time.Time
}

// NewMemory creates a Memory cache holding at most maxEntries entries.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		entries: make(map[string]memEntry),
		max:     maxEntries,
		now:     time.Now,
	}
}

// Get implements [Cache].
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set implements [Cache].
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.max {
		m.evict()
	}
	m.entries[key] = memEntry{value: append([]byte(nil), value...), expires: expires}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evict removes expired entries, or the entry expiring soonest if none has
// expired. Entries without expiry are evicted last. Callers hold m.mu.
func (m *Memory) evict() {
	now := m.now()
	for k, e := range m.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	if len(m.entries) < m.max {
		return
	}
	var (
		victim  string
		soonest time.Time
		first   = true
	)
	for k, e := range m.entries {
		if first || expiresBefore(e.expires, soonest) {
			victim, soonest, first = k, e.expires, false
		}
	}
	delete(m.entries, victim)
}

// expiresBefore orders expiry times, treating the zero time as never.
func expiresBefore(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}
