package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryBackend is a single-node, best-effort Backend used when the
// distributed cache is unavailable. Expiry is lazy: entries past their TTL
// are dropped on access, no background sweep runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Exists reports whether a key is present and unexpired
func (m *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	_, err := m.Get(context.Background(), key)
	if err == ErrMiss {
		return false, nil
	}
	return err == nil, err
}

// Get retrieves a value, dropping it if expired
func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", ErrMiss
	}
	if e.expired(m.now()) {
		m.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry since the read.
		if cur, ok := m.entries[key]; ok && cur.expired(m.now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return "", ErrMiss
	}
	return e.value, nil
}

// Set stores a value with optional expiration
func (m *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// TTL returns the remaining lifetime of a key
func (m *MemoryBackend) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	now := m.now()
	if !ok || e.expired(now) {
		return 0, ErrMiss
	}
	if e.expiresAt.IsZero() {
		return NoExpiry, nil
	}
	return e.expiresAt.Sub(now), nil
}

// Ping always succeeds; the store is in-process.
func (m *MemoryBackend) Ping(_ context.Context) error {
	return nil
}
