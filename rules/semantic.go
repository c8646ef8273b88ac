package rules

import (
	"context"
	"errors"
	"log/slog"

	"github.com/liamcoop/casereview/policy"
)

// ErrNoSemanticChecker is recorded on semantic rules when the engine has no checker
var ErrNoSemanticChecker = errors.New("semantic checker not configured")

// Verdict is a semantic checker's judgment of one rule
type Verdict struct {
	Violation bool   `json:"violation"`
	Reason    string `json:"reason"`
}

// SemanticChecker judges rules that cannot be expressed as field comparisons.
// Implementations own their timeouts; the engine treats any error as no violation.
type SemanticChecker interface {
	Check(ctx context.Context, rule policy.Rule, in Input) (Verdict, error)
}

// SemanticCheckerFunc adapts a function to SemanticChecker
type SemanticCheckerFunc func(ctx context.Context, rule policy.Rule, in Input) (Verdict, error)

// Check calls f
func (f SemanticCheckerFunc) Check(ctx context.Context, rule policy.Rule, in Input) (Verdict, error) {
	return f(ctx, rule, in)
}

// EvaluateSemantic asks checker for a verdict on every active semantic rule.
// Checker failures degrade to a miss with RuleResult.Error set.
func EvaluateSemantic(ctx context.Context, checker SemanticChecker, rules []policy.Rule, in Input, logger *slog.Logger) []RuleResult {
	results := []RuleResult{}

	for _, rule := range rules {
		if rule.Kind != policy.KindSemantic || !rule.Active() {
			continue
		}

		r := RuleResult{
			RuleID:      rule.ID,
			Description: rule.Description,
			Kind:        policy.KindSemantic,
			Matched:     []MatchedCondition{},
		}

		var (
			verdict Verdict
			err     = ErrNoSemanticChecker
		)
		if checker != nil {
			verdict, err = checker.Check(ctx, rule, in)
		}

		if err != nil {
			r.Error = err.Error()
			logger.WarnContext(ctx, "semantic check degraded to no violation",
				"rule_id", rule.ID,
				"error", err)
			results = append(results, r)
			continue
		}

		r.Reason = verdict.Reason
		if verdict.Violation {
			r.Hit = true
			r.Matched = []MatchedCondition{{
				Field:    "semantic_check",
				Operator: "violation",
				Expected: true,
				Actual:   true,
			}}
		}
		results = append(results, r)
	}

	return results
}
