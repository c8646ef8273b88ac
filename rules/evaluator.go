package rules

import (
	"github.com/liamcoop/casereview/policy"
)

// EvaluateRules evaluates the active deterministic rules against in, in policy order.
// A rule hits iff every condition compares true; a rule without conditions always hits.
// Every condition is evaluated, but evidence is kept only when the rule hits.
func EvaluateRules(rules []policy.Rule, in Input) []RuleResult {
	results := []RuleResult{}

	for _, rule := range rules {
		if rule.Kind != policy.KindDeterministic || !rule.Active() {
			continue
		}
		results = append(results, evaluateRule(rule, in))
	}

	return results
}

func evaluateRule(rule policy.Rule, in Input) RuleResult {
	hit := true
	matched := make([]MatchedCondition, 0, len(rule.When))

	for _, c := range rule.When {
		actual := in[c.Field]
		if Compare(actual, c.Operator, c.Value) {
			matched = append(matched, MatchedCondition{
				Field:    c.Field,
				Operator: string(c.Operator),
				Expected: c.Value,
				Actual:   actual,
			})
		} else {
			hit = false
		}
	}

	if !hit {
		matched = []MatchedCondition{}
	}

	return RuleResult{
		RuleID:      rule.ID,
		Description: rule.Description,
		Kind:        policy.KindDeterministic,
		Hit:         hit,
		Matched:     matched,
	}
}
