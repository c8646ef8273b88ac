package rules

import (
	"github.com/liamcoop/casereview/policy"
)

// CollectRiskDrivers returns one driver per hit result whose policy rule declares a risk impact.
// A built-in contract check the policy does not declare keeps its severity as evidence
// on the result but drives no risk.
func CollectRiskDrivers(p *policy.Policy, results []RuleResult) []RiskDriver {
	drivers := []RiskDriver{}

	for _, r := range results {
		if !r.Hit {
			continue
		}

		rule, ok := p.Rule(r.RuleID)
		if !ok || rule.RiskImpact.Rank() == 0 {
			continue
		}

		description := r.Description
		if rule.Description != "" {
			description = rule.Description
		}
		drivers = append(drivers, RiskDriver{
			RuleID:      r.RuleID,
			Impact:      rule.RiskImpact,
			Description: description,
		})
	}

	return drivers
}

// DeriveRisk computes the risk level from drivers and the amount safety net.
//
// The base level is the highest driver impact, LOW without drivers. An amount at
// or above thresholds.amount.high raises it to at least HIGH; at or above
// thresholds.amount.medium raises LOW to MEDIUM. An amount strictly above
// config.high_risk_threshold raises it to at least config.force_risk_level.
// The safety net only raises risk, so a higher amount never yields a lower level.
func DeriveRisk(p *policy.Policy, drivers []RiskDriver, amount float64) policy.RiskLevel {
	risk := policy.RiskLow
	for _, d := range drivers {
		risk = policy.MaxRisk(risk, d.Impact)
	}

	thresholds := p.Thresholds.Amount
	switch {
	case thresholds.High != nil && amount >= *thresholds.High:
		risk = policy.MaxRisk(risk, policy.RiskHigh)
	case thresholds.Medium != nil && amount >= *thresholds.Medium && risk == policy.RiskLow:
		risk = policy.RiskMedium
	}

	if limit := p.Config.HighRiskThreshold; limit != nil && amount > *limit {
		force := p.Config.ForceRiskLevel
		if force.Rank() == 0 {
			force = policy.RiskHigh
		}
		risk = policy.MaxRisk(risk, force)
	}

	return risk
}
