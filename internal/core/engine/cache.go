package engine

import (
	"sync"
	"time"
)

type cacheEntry[T any] struct {
	key      string
	value    T
	storedAt time.Time
}

// TTLCache stores values that expire after a fixed TTL. Expired entries are
// evicted lazily on read; there is no size bound.
type TTLCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]cacheEntry[T]
}

// NewTTLCache creates a cache. A nil clock uses time.Now.
func NewTTLCache[T any](ttl time.Duration, clock func() time.Time) *TTLCache[T] {
	return &TTLCache[T]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry[T]),
	}
}

// Get returns the cached value if its age does not exceed the TTL.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key, resetting its age.
func (c *TTLCache[T]) Set(key string, value T) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[T]{key: key, value: value, storedAt: c.now()}
}

// Delete removes key.
func (c *TTLCache[T]) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *TTLCache[T]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry[T])
}

// Len returns the number of stored entries, including ones not yet evicted.
func (c *TTLCache[T]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the configured time-to-live.
func (c *TTLCache[T]) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

func (c *TTLCache[T]) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now().UTC()
}
