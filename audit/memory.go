package audit

import (
	"context"
	"sort"
	"sync"
)

// MemorySink keeps events in memory. Used by tests and the offline CLI.
type MemorySink struct {
	events []Event
	mu     sync.RWMutex
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append records an event
func (s *MemorySink) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e.withDefaults())
	return nil
}

// ListByCase returns a case's events ordered by creation time, then insertion order
func (s *MemorySink) ListByCase(_ context.Context, caseID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Event{}
	for _, e := range s.events {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Events returns a copy of every recorded event in insertion order
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Event(nil), s.events...)
}
