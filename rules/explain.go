package rules

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/liamcoop/casereview/policy"
)

var printer = message.NewPrinter(language.English)

// formatValue renders numbers with thousands separators and two decimals
func formatValue(v any) string {
	if v == nil {
		return "None"
	}
	if n, ok := toNumber(v); ok {
		return printer.Sprintf("%.2f", n)
	}
	return fmt.Sprint(v)
}

// Explain builds the human-readable evaluation map recorded on RULE_EVALUATED
// events. A hit explains its evidence; a miss explains each configured condition
// against the actual input. Rules with nothing to explain get a single Result line.
func Explain(p *policy.Policy, r RuleResult, in Input) map[string]string {
	conditions := r.Matched
	if len(conditions) == 0 {
		if rule, ok := p.Rule(r.RuleID); ok {
			for _, c := range rule.When {
				conditions = append(conditions, MatchedCondition{
					Field:    c.Field,
					Operator: string(c.Operator),
					Expected: c.Value,
					Actual:   in[c.Field],
				})
			}
		}
	}

	logic := make(map[string]string, len(conditions))
	for _, c := range conditions {
		act, exp := formatValue(c.Actual), formatValue(c.Expected)

		var msg string
		if r.Hit {
			msg = fmt.Sprintf("Risk Detected (%s %s %s)", act, c.Operator, exp)
		} else {
			msg = fmt.Sprintf("Pass (%s does NOT satisfy %s %s)", act, c.Operator, exp)
		}
		logic[explainKey(logic, c)] = fmt.Sprintf("%s (Rule: %s %s) -> %s", act, c.Operator, exp, msg)
	}

	if len(logic) == 0 {
		if r.Hit {
			logic["Result"] = "Criteria Met"
		} else {
			logic["Result"] = "Passed"
		}
	}
	return logic
}

// explainKey keys a line by field, adding the operator and then a counter when
// a rule tests the same field more than once.
func explainKey(logic map[string]string, c MatchedCondition) string {
	key := c.Field
	if _, taken := logic[key]; !taken {
		return key
	}
	key = c.Field + " " + c.Operator
	for i := 2; ; i++ {
		if _, taken := logic[key]; !taken {
			return key
		}
		key = fmt.Sprintf("%s %s #%d", c.Field, c.Operator, i)
	}
}
