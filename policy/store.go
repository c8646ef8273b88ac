package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store manages versioned policy documents.
// A (policy_id, version) pair is written once: storing the same content again is
// a no-op, storing different content returns ErrImmutable.
type Store interface {
	// Put stores a parsed policy
	Put(ctx context.Context, p *Policy) error

	// Get retrieves one policy version. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, policyID, version string) (*Policy, error)

	// Latest retrieves the highest version of a policy, ordered by CompareVersions
	Latest(ctx context.Context, policyID string) (*Policy, error)

	// List returns every stored version, ordered by policy ID then version
	List(ctx context.Context) ([]Ref, error)

	// Delete removes a policy version
	Delete(ctx context.Context, policyID, version string) error
}

type versionKey struct {
	policyID string
	version  string
}

// InMemoryStore implements Store using a map guarded by an RWMutex
type InMemoryStore struct {
	policies map[versionKey]*Policy
	mu       sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory policy store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		policies: make(map[versionKey]*Policy),
	}
}

// Put stores a policy version
func (s *InMemoryStore) Put(_ context.Context, p *Policy) error {
	if p == nil {
		return fmt.Errorf("policy cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey{p.PolicyID, p.Version}
	if existing, ok := s.policies[key]; ok {
		if existing.Hash() != p.Hash() {
			return fmt.Errorf("policy %s %s: %w", p.PolicyID, p.Version, ErrImmutable)
		}
		return nil
	}

	s.policies[key] = p
	return nil
}

// Get retrieves a policy version
func (s *InMemoryStore) Get(_ context.Context, policyID, version string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[versionKey{policyID, version}]
	if !ok {
		return nil, fmt.Errorf("policy %s %s: %w", policyID, version, ErrNotFound)
	}
	return p, nil
}

// Latest retrieves the highest stored version of a policy
func (s *InMemoryStore) Latest(_ context.Context, policyID string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Policy
	for key, p := range s.policies {
		if key.policyID != policyID {
			continue
		}
		if latest == nil || CompareVersions(p.Version, latest.Version) > 0 {
			latest = p
		}
	}

	if latest == nil {
		return nil, fmt.Errorf("policy %s: %w", policyID, ErrNotFound)
	}
	return latest, nil
}

// List returns all stored policy versions
func (s *InMemoryStore) List(_ context.Context) ([]Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]Ref, 0, len(s.policies))
	for _, p := range s.policies {
		refs = append(refs, p.Ref())
	}
	SortRefs(refs)
	return refs, nil
}

// Delete removes a policy version
func (s *InMemoryStore) Delete(_ context.Context, policyID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey{policyID, version}
	if _, ok := s.policies[key]; !ok {
		return fmt.Errorf("policy %s %s: %w", policyID, version, ErrNotFound)
	}

	delete(s.policies, key)
	return nil
}

// SortRefs orders refs by policy ID, then by version using CompareVersions
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].PolicyID != refs[j].PolicyID {
			return refs[i].PolicyID < refs[j].PolicyID
		}
		return CompareVersions(refs[i].Version, refs[j].Version) < 0
	})
}
