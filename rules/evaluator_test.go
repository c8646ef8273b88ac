package rules

import (
	"testing"

	"github.com/liamcoop/casereview/policy"
)

// TestEvaluateRules_Conjunction verifies a rule hits only when every condition holds
func TestEvaluateRules_Conjunction(t *testing.T) {
	rule := policy.Rule{
		ID: "HIGH_VALUE_NEW_VENDOR",
		When: []policy.Condition{
			{Field: "amount_total", Operator: policy.OpGreater, Value: 100000},
			{Field: "vendor_rating", Operator: policy.OpLess, Value: 60},
		},
		Then: policy.Action{Decision: policy.DecisionEscalate},
	}

	tests := []struct {
		name        string
		in          Input
		wantHit     bool
		wantMatched int
	}{
		{"both hold", Input{"amount_total": 150000.0, "vendor_rating": 55}, true, 2},
		{"second fails", Input{"amount_total": 150000.0, "vendor_rating": 95}, false, 0},
		{"first fails", Input{"amount_total": 50.0, "vendor_rating": 55}, false, 0},
		{"field missing", Input{"amount_total": 150000.0}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := EvaluateRules([]policy.Rule{rule}, tt.in)
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			r := results[0]
			if r.Hit != tt.wantHit {
				t.Errorf("Hit = %v, want %v", r.Hit, tt.wantHit)
			}
			if r.Matched == nil || len(r.Matched) != tt.wantMatched {
				t.Errorf("Matched = %v, want %d non-nil entries", r.Matched, tt.wantMatched)
			}
		})
	}
}

// TestEvaluateRules_EmptyWhenAlwaysHits verifies vacuous conjunction
func TestEvaluateRules_EmptyWhenAlwaysHits(t *testing.T) {
	results := EvaluateRules([]policy.Rule{{ID: "ALWAYS", Then: policy.Action{Decision: policy.DecisionReview}}}, Input{})

	if len(results) != 1 || !results[0].Hit {
		t.Fatalf("rule without conditions should hit, got %+v", results)
	}
	if len(results[0].Matched) != 0 {
		t.Errorf("Matched = %v, want empty", results[0].Matched)
	}
}

// TestEvaluateRules_SkipsInactiveAndOtherKinds verifies only active deterministic rules participate
func TestEvaluateRules_SkipsInactiveAndOtherKinds(t *testing.T) {
	rules := []policy.Rule{
		{ID: "ACTIVE_RULE"},
		{ID: "DISABLED_RULE", IsActive: boolPtr(false)},
		{ID: "EXPLICITLY_ACTIVE", IsActive: boolPtr(true)},
		{ID: "SEMANTIC_RULE", Kind: policy.KindSemantic},
		{ID: policy.RuleContractExpired, Kind: policy.KindContract},
	}

	results := EvaluateRules(rules, Input{})

	var ids []string
	for _, r := range results {
		ids = append(ids, r.RuleID)
	}
	if len(ids) != 2 || ids[0] != "ACTIVE_RULE" || ids[1] != "EXPLICITLY_ACTIVE" {
		t.Errorf("evaluated rules = %v, want [ACTIVE_RULE EXPLICITLY_ACTIVE]", ids)
	}
}

// TestEvaluateRules_EvidenceCarriesActualValues verifies matched entries record the compared values
func TestEvaluateRules_EvidenceCarriesActualValues(t *testing.T) {
	p := loadPolicy(t, scenarioPolicy)

	results := EvaluateRules(p.Rules, Input{"amount_total": 387500.0})
	r, ok := findResult(results, "HIGH_AMOUNT_ESCALATION")
	if !ok || !r.Hit {
		t.Fatalf("HIGH_AMOUNT_ESCALATION should hit, got %+v", r)
	}

	m := r.Matched[0]
	if m.Field != "amount_total" || m.Operator != ">" || m.Actual != 387500.0 || m.Expected != 200000 {
		t.Errorf("matched[0] = %+v, want amount_total > 200000 with actual 387500", m)
	}
}
