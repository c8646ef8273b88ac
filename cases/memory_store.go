package cases

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore implements Store in memory. Cases are deep-copied on the way in
// and out so callers never share payload maps with the store.
type MemoryStore struct {
	cases map[string][]byte
	mu    sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory case store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases: make(map[string][]byte),
	}
}

// Get returns a copy of the case
func (s *MemoryStore) Get(_ context.Context, caseID string) (*Case, error) {
	s.mu.RLock()
	raw, ok := s.cases[caseID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}

	var c Case
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode case: %w", err)
	}
	return &c, nil
}

// Save stores a copy of the case
func (s *MemoryStore) Save(_ context.Context, c *Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("case ID cannot be empty")
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode case: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cases[c.ID] = raw
	return nil
}
