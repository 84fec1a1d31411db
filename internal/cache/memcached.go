package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	// maxRelativeExp is the largest relative expiration memcached accepts (30 days).
	maxRelativeExp = 30 * 24 * 60 * 60

	// DefaultMaxItemBytes matches memcached's default item size limit (-I 1m).
	DefaultMaxItemBytes = 1 << 20

	// itemOverhead leaves room for the key and item header inside the server's slab.
	itemOverhead = 512
)

// ErrValueTooLarge is returned by Set when an encoded value exceeds the item size limit.
var ErrValueTooLarge = errors.New("cache value too large")

// Memcached is a shared memcached connection pool. Typed caches are layered on it
// with NewMemcachedCache so weather observations and workspaces share one client.
type Memcached struct {
	client       *memcache.Client
	maxItemBytes int
}

// NewMemcached creates a client for addrs, a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero. maxItemBytes is the server's item size limit
// (DefaultMaxItemBytes if zero).
func NewMemcached(addrs string, timeout time.Duration, maxIdleConns, maxItemBytes int) *Memcached {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if maxItemBytes <= 0 {
		maxItemBytes = DefaultMaxItemBytes
	}
	return &Memcached{client: client, maxItemBytes: maxItemBytes}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Ping checks if memcached is reachable. Used for health checks.
func (m *Memcached) Ping() error {
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *Memcached) Close() error {
	return m.client.Close()
}

// MemcachedCache implements Cache[T] on memcached with gob-encoded values.
// Items live for ttl plus retention; freshness is tracked inside the envelope so
// GetStale can serve entries memcached still holds after their logical expiry.
type MemcachedCache[T any] struct {
	mc        *Memcached
	prefix    string
	retention time.Duration
}

type envelope[T any] struct {
	Value     T
	StoredAt  time.Time
	ExpiresAt time.Time
}

// NewMemcachedCache returns a typed cache whose keys are namespaced by prefix (e.g. "weather:").
func NewMemcachedCache[T any](mc *Memcached, prefix string, retention time.Duration) *MemcachedCache[T] {
	return &MemcachedCache[T]{mc: mc, prefix: prefix, retention: retention}
}

// key namespaces k and keeps it within memcached's key rules (no spaces or control characters, 250 bytes).
func (c *MemcachedCache[T]) key(k string) string {
	k = strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, c.prefix+k)
	if len(k) > 250 {
		k = k[:250]
	}
	return k
}

func (c *MemcachedCache[T]) load(ctx context.Context, key string) (envelope[T], bool, error) {
	var env envelope[T]
	if err := ctx.Err(); err != nil {
		return env, false, err
	}
	item, err := c.mc.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return env, false, nil
		}
		return env, false, err
	}
	if err := gob.NewDecoder(bytes.NewReader(item.Value)).Decode(&env); err != nil {
		return env, false, fmt.Errorf("decode cache item: %w", err)
	}
	return env, true, nil
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok || !time.Now().Before(env.ExpiresAt) {
		return zero, false, err
	}
	return env.Value, true, nil
}

// GetStale implements Cache.GetStale.
func (c *MemcachedCache[T]) GetStale(ctx context.Context, key string, maxAge time.Duration) (T, bool, error) {
	var zero T
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok || time.Since(env.StoredAt) > maxAge {
		return zero, false, err
	}
	return env.Value, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope[T]{Value: value, StoredAt: now, ExpiresAt: now.Add(ttl)}); err != nil {
		return fmt.Errorf("encode cache item: %w", err)
	}
	if limit := c.mc.maxItemBytes - itemOverhead; buf.Len() > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrValueTooLarge, buf.Len(), limit)
	}
	err := c.mc.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      buf.Bytes(),
		Expiration: expirationSeconds(ttl + c.retention),
	})
	if err != nil && strings.Contains(err.Error(), "too large") {
		return fmt.Errorf("%w: %v", ErrValueTooLarge, err)
	}
	return err
}

// Delete implements Cache.Delete.
func (c *MemcachedCache[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.mc.client.Delete(c.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

func expirationSeconds(d time.Duration) int32 {
	sec := int64(d / time.Second)
	if sec <= 0 {
		return 3600
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return int32(sec)
}
