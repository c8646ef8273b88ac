package policy

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	policy   *Policy
	cachedAt time.Time
}

// InMemoryCache is a simple in-memory implementation of Cache
// Thread-safe for concurrent access
type InMemoryCache struct {
	entries map[versionKey]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryCache creates a new in-memory policy cache
func NewInMemoryCache(config CacheConfig) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[versionKey]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get retrieves a cached policy
// Returns false if the entry is missing or expired
func (c *InMemoryCache) Get(_ context.Context, policyID, version string) (*Policy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[versionKey{policyID, version}]
	if !ok {
		return nil, false
	}

	if c.config.TTL > 0 && c.now().Sub(e.cachedAt) > c.config.TTL {
		return nil, false
	}

	return e.policy, true
}

// Set stores a policy in cache
func (c *InMemoryCache) Set(_ context.Context, p *Policy) {
	if p == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[versionKey{p.PolicyID, p.Version}] = cacheEntry{policy: p, cachedAt: c.now()}
}

// Invalidate drops one version
func (c *InMemoryCache) Invalidate(_ context.Context, policyID, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, versionKey{policyID, version})
}

// InvalidateAll clears the cache
func (c *InMemoryCache) InvalidateAll(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[versionKey]cacheEntry)
}

// Len returns the number of live entries
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config.TTL <= 0 {
		return len(c.entries)
	}

	n := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Sub(e.cachedAt) <= c.config.TTL {
			n++
		}
	}
	return n
}
