package policy

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxRules        = 500
	maxConditions   = 50
	maxIdentifierLn = 100
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// Contract rule IDs. A contract rule in the policy annotates one of the built-in
// contract checks with a decision and risk impact.
const (
	RuleNoContractReference   = "NO_CONTRACT_REFERENCE"
	RuleContractExpired       = "CONTRACT_EXPIRED"
	RuleContractPriceVariance = "CONTRACT_PRICE_VARIANCE"
)

func isContractRuleID(id string) bool {
	switch id {
	case RuleNoContractReference, RuleContractExpired, RuleContractPriceVariance:
		return true
	}
	return false
}

// Validate checks a decoded policy. Returns an error describing the first problem found.
// Malformed authority conditions are not validation errors; they are skipped at evaluation time.
func Validate(p *Policy, opts LoadOptions) error {
	if p.PolicyID == "" {
		return fmt.Errorf("policy_id is required")
	}
	if p.Version == "" {
		return fmt.Errorf("version is required")
	}

	if len(p.Rules) > maxRules {
		return fmt.Errorf("policy contains %d rules, maximum allowed is %d", len(p.Rules), maxRules)
	}

	seen := make(map[string]bool, len(p.Rules))
	for i := range p.Rules {
		r := &p.Rules[i]

		if err := validateIdentifier(r.ID); err != nil {
			return fmt.Errorf("rule %d: invalid id %q: %w", i, r.ID, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true

		if err := validateRule(r, opts); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}

	amt := p.Thresholds.Amount
	if amt.Medium != nil && amt.High != nil && *amt.Medium > *amt.High {
		return fmt.Errorf("thresholds.amount.medium (%v) must not exceed thresholds.amount.high (%v)", *amt.Medium, *amt.High)
	}

	if p.Config.ForceRiskLevel.Rank() == 0 {
		return fmt.Errorf("config.force_risk_level %q is not a risk level", p.Config.ForceRiskLevel)
	}

	if cc := p.ContractCompliance; cc != nil && cc.MaxAllowedVariancePct < 0 {
		return fmt.Errorf("contract_compliance.max_allowed_variance_pct must not be negative, got %v", cc.MaxAllowedVariancePct)
	}

	for i, a := range p.Authority.Rules {
		if strings.TrimSpace(a.RequiredRole) == "" {
			return fmt.Errorf("authority rule %d has empty required_role", i)
		}
	}

	return nil
}

func validateRule(r *Rule, opts LoadOptions) error {
	if r.Then.Decision != "" && r.Then.Decision.Priority() == 0 {
		return fmt.Errorf("unknown decision %q", r.Then.Decision)
	}
	if r.RiskImpact != "" && r.RiskImpact.Rank() == 0 {
		return fmt.Errorf("unknown risk_impact %q", r.RiskImpact)
	}

	switch r.Kind {
	case KindContract:
		if !isContractRuleID(r.ID) {
			return fmt.Errorf("contract rules must use one of the ids %s, %s, %s",
				RuleNoContractReference, RuleContractExpired, RuleContractPriceVariance)
		}
		if len(r.When) > 0 {
			return fmt.Errorf("contract rules take no when conditions")
		}
		return nil

	case KindSemantic:
		if strings.TrimSpace(r.Description) == "" {
			return fmt.Errorf("semantic rules need a description for the checker to judge")
		}

	case KindDeterministic:
		if len(r.When) > maxConditions {
			return fmt.Errorf("rule contains %d conditions, maximum allowed is %d", len(r.When), maxConditions)
		}
		for j, c := range r.When {
			if strings.TrimSpace(c.Field) == "" {
				return fmt.Errorf("condition %d has empty field", j)
			}
			if !c.Operator.Valid() {
				return fmt.Errorf("condition %d has unknown operator %q (must be one of: >, >=, <, <=, ==, !=, in, not_in, contains)", j, c.Operator)
			}
		}
	}

	if r.Then.Decision == "" {
		if !opts.AllowLegacyDecisions {
			return fmt.Errorf("then.decision is required")
		}
		opts.logger().Warn("rule relies on deprecated rule-id decision convention",
			"rule_id", r.ID)
	}

	return nil
}

// validateIdentifier checks a rule ID: 1-100 characters, starting with a letter or
// underscore, followed by letters, digits, underscores or hyphens
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLn {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLn)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern %s", identifierPattern.String())
	}
	return nil
}
