package rules

import (
	"testing"

	"github.com/liamcoop/casereview/policy"
)

const procurementPolicyPath = "../testdata/policies/procurement_policy_v3.yaml"

const scenarioPolicy = `
policy_id: PROCUREMENT-TEST
version: v1.0
rules:
  - id: HIGH_AMOUNT_ESCALATION
    description: High value procurement (>200k) must be escalated
    when:
      - { field: amount_total, operator: ">", value: 200000 }
    then: { decision: ESCALATE }
    risk_impact: HIGH
  - id: VENDOR_BLACKLIST_CHECK
    description: "Critical: Vendor is flagged as BLACKLISTED"
    when:
      - { field: vendor_status, operator: "==", value: BLACKLISTED }
    then: { decision: REJECT }
    risk_impact: CRITICAL
  - id: SLA_BREACH_RISK
    description: Less than 24 hours left before the SLA deadline
    when:
      - { field: hours_to_sla, operator: "<", value: 24 }
    then: { decision: REVIEW }
thresholds:
  amount: { medium: 200000, high: 500000 }
config:
  high_risk_threshold: 1000000
  force_risk_level: CRITICAL
authority:
  rules:
    - { condition: "amount_total > 200000", required_role: Finance_Director }
`

const contractPolicy = `
policy_id: CONTRACT-TEST
version: v1.0
rules: []
contract_compliance:
  validity_check: true
  price_check: true
  max_allowed_variance_pct: 5
`

func loadPolicy(t testing.TB, doc string) *policy.Policy {
	t.Helper()
	p, err := policy.Parse([]byte(doc), policy.LoadOptions{})
	if err != nil {
		t.Fatalf("policy.Parse() failed: %v", err)
	}
	return p
}

func findResult(results []RuleResult, id string) (RuleResult, bool) {
	for _, r := range results {
		if r.RuleID == id {
			return r, true
		}
	}
	return RuleResult{}, false
}

func boolPtr(b bool) *bool { return &b }
