package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the in-process cache when no size is given.
const DefaultMaxEntries = 10000

// entry wraps a cached value with its expiry deadline.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is a bounded in-process Store. Eviction is LRU by capacity;
// expiry is checked per entry on read so no value outlives its TTL.
type Memory struct {
	entries *lru.Cache[string, entry]
	now     func() time.Time
}

// NewMemory creates an in-process store holding at most maxEntries.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, _ := lru.New[string, entry](maxEntries)
	return &Memory{
		entries: entries,
		now:     time.Now,
	}
}

// Get returns the value for key if present and unexpired.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		m.entries.Remove(key)
		return nil, false
	}
	return e.data, true
}

// Set stores value under key until ttl elapses.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.entries.Add(key, entry{
		data:      value,
		expiresAt: m.now().Add(ttl),
	})
}

// Delete removes key if present.
func (m *Memory) Delete(ctx context.Context, key string) {
	m.entries.Remove(key)
}

// Len reports the number of resident entries, expired or not.
func (m *Memory) Len() int {
	return m.entries.Len()
}
