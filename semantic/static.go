// Package semantic provides collaborators that judge semantic rules for the
// decision engine: fixed verdicts for offline runs and tests, and an HTTP
// client for an external judgment service.
package semantic

import (
	"context"
	"sync"

	"github.com/liamcoop/casereview/policy"
	"github.com/liamcoop/casereview/rules"
)

// Static returns preconfigured verdicts by rule ID
type Static struct {
	verdicts map[string]rules.Verdict
	fallback rules.Verdict
	mu       sync.RWMutex
}

var _ rules.SemanticChecker = (*Static)(nil)

// NewStatic creates a checker that answers rules without a configured verdict with fallback
func NewStatic(fallback rules.Verdict) *Static {
	return &Static{
		verdicts: make(map[string]rules.Verdict),
		fallback: fallback,
	}
}

// Set configures the verdict for a rule
func (s *Static) Set(ruleID string, v rules.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verdicts[ruleID] = v
}

// Check implements rules.SemanticChecker
func (s *Static) Check(_ context.Context, rule policy.Rule, _ rules.Input) (rules.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.verdicts[rule.ID]; ok {
		return v, nil
	}
	return s.fallback, nil
}
