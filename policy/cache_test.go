package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingStore records how often the backing store is read
type countingStore struct {
	Store
	gets int
}

func (s *countingStore) Get(ctx context.Context, policyID, version string) (*Policy, error) {
	s.gets++
	return s.Store.Get(ctx, policyID, version)
}

// TestInMemoryCache_TTL verifies entries expire after the configured TTL
func TestInMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCache(CacheConfig{TTL: time.Minute})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	p := mustParse(t, minimalPolicy)
	cache.Set(ctx, p)

	if _, ok := cache.Get(ctx, "P-1", "1.0"); !ok {
		t.Fatal("expected cache hit right after Set")
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get(ctx, "P-1", "1.0"); ok {
		t.Error("expected miss after TTL elapsed")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() after expiry = %d, want 0", cache.Len())
	}
}

// TestInMemoryCache_Invalidate verifies single and full invalidation
func TestInMemoryCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCache(CacheConfig{})

	cache.Set(ctx, mustParse(t, versionDoc("1.0", 500000)))
	cache.Set(ctx, mustParse(t, versionDoc("2.0", 500000)))

	cache.Invalidate(ctx, "P-1", "1.0")
	if _, ok := cache.Get(ctx, "P-1", "1.0"); ok {
		t.Error("1.0 should be invalidated")
	}
	if _, ok := cache.Get(ctx, "P-1", "2.0"); !ok {
		t.Error("2.0 should still be cached")
	}

	cache.InvalidateAll(ctx)
	if cache.Len() != 0 {
		t.Errorf("Len() after InvalidateAll = %d, want 0", cache.Len())
	}
}

// TestCachedStore_ReadThrough verifies repeated reads hit the cache and writes invalidate it
func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: NewInMemoryStore()}
	store := NewCachedStore(backing, NewInMemoryCache(DefaultCacheConfig()))

	if err := store.Put(ctx, mustParse(t, minimalPolicy)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Get(ctx, "P-1", "1.0"); err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
	}
	if backing.gets != 1 {
		t.Errorf("backing store reads = %d, want 1", backing.gets)
	}

	if err := store.Delete(ctx, "P-1", "1.0"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, "P-1", "1.0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}
