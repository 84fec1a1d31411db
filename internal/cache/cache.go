package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a typed TTL cache. Get returns only fresh entries; GetStale also returns
// expired entries no older than maxAge since they were stored.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	GetStale(ctx context.Context, key string, maxAge time.Duration) (T, bool, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// InMemoryCache implements Cache with a mutex-guarded map. Entries are kept past
// expiry for up to retention so GetStale can serve them; a sweep on Set drops the rest.
type InMemoryCache[T any] struct {
	mu        sync.RWMutex
	data      map[string]cacheEntry[T]
	retention time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type cacheEntry[T any] struct {
	value     T
	storedAt  time.Time
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache. retention is how long expired entries
// stay available to GetStale (0 drops them on expiry).
func NewInMemoryCache[T any](retention time.Duration) *InMemoryCache[T] {
	return &InMemoryCache[T]{
		data:      make(map[string]cacheEntry[T]),
		retention: retention,
		now:       time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return zero, false, nil
	}
	return entry.value, true, nil
}

// GetStale returns the value for key, expired or not, when it was stored within maxAge.
func (c *InMemoryCache[T]) GetStale(ctx context.Context, key string, maxAge time.Duration) (T, bool, error) {
	var zero T
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.storedAt) > maxAge {
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key for ttl.
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry[T]{value: value, storedAt: now, expiresAt: now.Add(ttl)}
	if now.Sub(c.lastSweep) >= time.Minute {
		c.sweepLocked(now)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *InMemoryCache[T]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Len returns the number of stored entries, including expired ones awaiting sweep.
func (c *InMemoryCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// sweepLocked drops entries past expiry plus retention. Must hold mu.
func (c *InMemoryCache[T]) sweepLocked(now time.Time) {
	c.lastSweep = now
	for k, e := range c.data {
		if now.After(e.expiresAt.Add(c.retention)) {
			delete(c.data, k)
		}
	}
}
