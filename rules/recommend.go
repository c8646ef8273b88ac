package rules

import (
	"strings"

	"github.com/liamcoop/casereview/policy"
)

// DefaultRequiredRole approves cases no authority rule claims
const DefaultRequiredRole = "Procurement_Manager"

// LegacyDecision infers a decision from a rule ID prefix: VENDOR_ and BUDGET_
// reject, HIGH_ and POTENTIAL_ escalate, SLA_ reviews. The second result is
// false for any other ID.
//
// Deprecated: declare then.decision on every rule. This only resolves rules of
// policies loaded with policy.LoadOptions.AllowLegacyDecisions.
func LegacyDecision(ruleID string) (policy.Decision, bool) {
	switch {
	case strings.HasPrefix(ruleID, "VENDOR_"), strings.HasPrefix(ruleID, "BUDGET_"):
		return policy.DecisionReject, true
	case strings.HasPrefix(ruleID, "HIGH_"), strings.HasPrefix(ruleID, "POTENTIAL_"):
		return policy.DecisionEscalate, true
	case strings.HasPrefix(ruleID, "SLA_"):
		return policy.DecisionReview, true
	}
	return "", false
}

// Recommend resolves the hit rules into one decision by strict priority
// REJECT > ESCALATE > REVIEW > APPROVE, and routes it to the first authority
// rule whose condition matches in.
func Recommend(p *policy.Policy, hitRuleIDs []string, in Input) Recommendation {
	decisions := make(map[string]policy.Decision, len(p.Rules))
	for _, r := range p.Rules {
		if r.Then.Decision != "" {
			decisions[r.ID] = r.Then.Decision
		}
	}

	decision := policy.DecisionApprove
	for _, id := range hitRuleIDs {
		d, ok := decisions[id]
		if !ok {
			d, ok = LegacyDecision(id)
		}
		if ok && d.Priority() > decision.Priority() {
			decision = d
		}
	}

	riskFactors := []string{}
	switch decision {
	case policy.DecisionEscalate:
		riskFactors = append(riskFactors, RiskFactorEscalation)
	case policy.DecisionReject:
		riskFactors = append(riskFactors, RiskFactorRejection)
	}

	return Recommendation{
		Decision:     decision,
		RequiredRole: RequiredRole(p, in),
		ReasonCodes:  append([]string{}, hitRuleIDs...),
		RiskFactors:  riskFactors,
	}
}

// RequiredRole walks the authority rules in order and returns the first matching
// role, or DefaultRequiredRole. Malformed conditions never match.
func RequiredRole(p *policy.Policy, in Input) string {
	for i := range p.Authority.Rules {
		a := &p.Authority.Rules[i]
		if a.Matches(in) {
			return a.RequiredRole
		}
	}
	return DefaultRequiredRole
}
