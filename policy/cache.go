package policy

import (
	"context"
	"time"
)

// Cache holds parsed policies keyed by (policy_id, version).
// This allows swapping between in-memory, Redis, or other caching implementations.
type Cache interface {
	// Get retrieves a cached policy, false on miss or expiry
	Get(ctx context.Context, policyID, version string) (*Policy, bool)

	// Set stores a policy in the cache
	Set(ctx context.Context, p *Policy)

	// Invalidate drops one cached version
	Invalidate(ctx context.Context, policyID, version string)

	// InvalidateAll clears the cache, forcing a reload on next Get
	InvalidateAll(ctx context.Context)
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration

	// KeyPrefix namespaces keys in shared caches such as Redis
	KeyPrefix string
}

// DefaultCacheConfig returns the cache defaults. Policy versions are immutable,
// so entries only need to expire to bound memory.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:       15 * time.Minute,
		KeyPrefix: "casereview:policy:",
	}
}

// CachedStore reads through a Cache in front of a Store and invalidates on writes
type CachedStore struct {
	Store
	cache Cache
}

// NewCachedStore wraps store with cache
func NewCachedStore(store Store, cache Cache) *CachedStore {
	return &CachedStore{Store: store, cache: cache}
}

// Get serves from cache, falling back to the store
func (s *CachedStore) Get(ctx context.Context, policyID, version string) (*Policy, error) {
	if p, ok := s.cache.Get(ctx, policyID, version); ok {
		return p, nil
	}

	p, err := s.Store.Get(ctx, policyID, version)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, p)
	return p, nil
}

// Latest resolves the latest version from the store and caches it
func (s *CachedStore) Latest(ctx context.Context, policyID string) (*Policy, error) {
	p, err := s.Store.Latest(ctx, policyID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, p)
	return p, nil
}

// Put stores the policy and drops any cached copy of that version
func (s *CachedStore) Put(ctx context.Context, p *Policy) error {
	if err := s.Store.Put(ctx, p); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, p.PolicyID, p.Version)
	return nil
}

// Delete removes the policy and its cached copy
func (s *CachedStore) Delete(ctx context.Context, policyID, version string) error {
	s.cache.Invalidate(ctx, policyID, version)
	return s.Store.Delete(ctx, policyID, version)
}

// InvalidateAll clears the cache; used when the underlying store reloads
func (s *CachedStore) InvalidateAll(ctx context.Context) {
	s.cache.InvalidateAll(ctx)
}
