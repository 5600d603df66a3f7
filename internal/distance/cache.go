package distance

import (
	"context"
	"sync"
	"time"
)

// Cache stores estimates by key with a per-entry TTL. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (Estimate, bool)
	Set(ctx context.Context, key string, value Estimate, ttl time.Duration)
}

type memoryEntry struct {
	value Estimate
	exp   time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memoryEntry{}, now: time.Now}
}

// NewMemoryCacheWithClock is used by tests to control expiry.
func NewMemoryCacheWithClock(now func() time.Time) *MemoryCache {
	return &MemoryCache{items: map[string]memoryEntry{}, now: now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Estimate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return Estimate{}, false
	}
	if !c.now().Before(e.exp) {
		delete(c.items, key)
		return Estimate{}, false
	}
	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value Estimate, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryEntry{value: value, exp: c.now().Add(ttl)}
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
