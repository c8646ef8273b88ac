package policy

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// authorityCostLimit bounds the work one authority condition may do per evaluation
const authorityCostLimit = 10000

// compileAuthority turns each authority condition into a CEL program. Conditions
// are parsed without declared variables so any input field may be referenced;
// they are resolved against the input map at evaluation time.
//
// A condition that fails to compile is kept, marked with its error and logged.
// Matches reports false for it, so routing falls through to the next rule.
func compileAuthority(p *Policy, logger *slog.Logger) error {
	if len(p.Authority.Rules) == 0 {
		return nil
	}

	env, err := cel.NewEnv(cel.CrossTypeNumericComparisons(true))
	if err != nil {
		return fmt.Errorf("failed to create CEL environment: %w", err)
	}

	for i := range p.Authority.Rules {
		a := &p.Authority.Rules[i]

		ast, issues := env.Parse(a.Condition)
		if issues != nil && issues.Err() != nil {
			a.compileErr = issues.Err()
		} else {
			a.program, a.compileErr = env.Program(ast, cel.CostLimit(authorityCostLimit))
		}

		if a.compileErr != nil {
			logger.Warn("authority condition will be skipped",
				"policy_id", p.PolicyID,
				"version", p.Version,
				"index", i,
				"condition", a.Condition,
				"error", a.compileErr)
		}
	}

	return nil
}

// Matches evaluates the condition against inputs. Missing fields, type
// mismatches, evaluation errors and non-boolean results all count as no match.
func (a *AuthorityRule) Matches(inputs map[string]any) bool {
	if a.program == nil {
		return false
	}

	out, _, err := a.program.Eval(inputs)
	if err != nil {
		return false
	}

	matched, ok := out.Value().(bool)
	return ok && matched
}

// Err returns the compile error of a malformed condition, or nil
func (a *AuthorityRule) Err() error {
	return a.compileErr
}
