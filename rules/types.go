package rules

import (
	"time"

	"github.com/liamcoop/casereview/policy"
)

// Input is the flat, normalized record a policy is evaluated against.
// Numeric fields must already be numbers; the engine never parses formatted strings.
type Input map[string]any

// Well-known input fields
const (
	FieldAmountTotal = "amount_total"
	FieldAmount      = "amount"
	FieldContract    = "contract"
	FieldLineItems   = "line_items"
)

// Amount is the case amount used by the safety net: amount_total, else amount, else 0
func (in Input) Amount() float64 {
	for _, field := range []string{FieldAmountTotal, FieldAmount} {
		if n, ok := toNumber(in[field]); ok {
			return n
		}
	}
	return 0
}

// MatchedCondition is one piece of evidence that justified a hit
type MatchedCondition struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Expected any      `json:"expected"`
	Actual   any      `json:"actual"`
	Variance *float64 `json:"variance_pct,omitempty"`
}

// RuleResult is the outcome of evaluating one rule.
// Matched is populated only when Hit is true.
type RuleResult struct {
	RuleID         string             `json:"rule_id"`
	Description    string             `json:"description"`
	Kind           policy.RuleKind    `json:"type"`
	Hit            bool               `json:"hit"`
	Matched        []MatchedCondition `json:"matched"`
	Severity       policy.RiskLevel   `json:"severity,omitempty"`
	DocReference   string             `json:"doc_reference,omitempty"`
	InputsSnapshot map[string]any     `json:"inputs_snapshot,omitempty"`

	// Reason is the semantic checker's explanation of its verdict
	Reason string `json:"reason,omitempty"`

	// Error records a degraded semantic check; the rule is reported as a miss
	Error string `json:"error,omitempty"`
}

// RiskDriver is a hit rule's contribution toward the derived risk level
type RiskDriver struct {
	RuleID      string           `json:"rule_id"`
	Impact      policy.RiskLevel `json:"impact"`
	Description string           `json:"description"`
}

// Risk factor tags mirroring the final decision
const (
	RiskFactorEscalation = "RULE_ESCALATION"
	RiskFactorRejection  = "RULE_REJECTION"
)

// Recommendation is the single decision derived from the hit rules
type Recommendation struct {
	Decision     policy.Decision `json:"decision"`
	RequiredRole string          `json:"required_role"`
	ReasonCodes  []string        `json:"reason_codes"`
	RiskFactors  []string        `json:"risk_factors"`
}

// Result is the aggregate outcome of one evaluation
type Result struct {
	RuleResults    []RuleResult     `json:"rule_results"`
	Recommendation Recommendation   `json:"recommendation"`
	RiskLevel      policy.RiskLevel `json:"risk_level"`
	RiskDrivers    []RiskDriver     `json:"risk_drivers"`
}

// HitRuleIDs returns the IDs of hit rules in evaluation order
func (r *Result) HitRuleIDs() []string {
	ids := []string{}
	for _, rr := range r.RuleResults {
		if rr.Hit {
			ids = append(ids, rr.RuleID)
		}
	}
	return ids
}

// Run identifies one audited evaluation. It is never reused and only correlates events.
type Run struct {
	RunID         string     `json:"run_id"`
	CaseID        string     `json:"case_id"`
	PolicyID      string     `json:"policy_id"`
	PolicyVersion string     `json:"policy_version"`
	PolicyHash    string     `json:"policy_hash"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Outcome is a Result together with the Run that produced it
type Outcome struct {
	Result
	Run           Run `json:"run"`
	WrittenEvents int `json:"written_events"`
}
