package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liamcoop/casereview/policy"
	"github.com/liamcoop/casereview/rules"
)

// Policy used when neither the caller nor the case names one
const (
	DefaultPolicyID      = "PROCUREMENT-001"
	DefaultPolicyVersion = "v3.1"

	// LatestVersion selects the highest stored version of a policy
	LatestVersion = "latest"
)

// ErrAuditIncomplete is returned with a complete result when the audit sink
// rejected part of the run's trail
var ErrAuditIncomplete = errors.New("audit trail incomplete")

// Service runs decisions for stored cases and records the outcome on the case
type Service struct {
	cases     Store
	policies  policy.Store
	engine    *rules.Engine
	contracts *ContractDirectory
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a decision service. contracts may be nil when no vendor
// contracts are known; every case then lacks a contract reference.
func NewService(cases Store, policies policy.Store, engine *rules.Engine, contracts *ContractDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cases:     cases,
		policies:  policies,
		engine:    engine,
		contracts: contracts,
		logger:    logger,
		now:       time.Now,
	}
}

// RunResult is the outcome of one decision run on a stored case
type RunResult struct {
	Case    *Case
	Policy  policy.Ref
	Outcome *rules.Outcome
}

// RunDecision evaluates a case against a policy version and writes the outcome
// back onto the case. Empty policyID or version fall back to the policy bound in
// the case payload, then to DefaultPolicyID and DefaultPolicyVersion.
//
// When the audit sink fails mid-run the case is still updated, and the result is
// returned together with an error wrapping ErrAuditIncomplete.
func (s *Service) RunDecision(ctx context.Context, caseID, policyID, version string) (*RunResult, error) {
	c, err := s.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}

	policyID, version = boundPolicy(c.Payload, policyID, version)
	p, err := s.loadPolicy(ctx, policyID, version)
	if err != nil {
		return nil, err
	}

	in := Normalize(c.Payload, s.contracts)

	out, runErr := s.engine.Run(ctx, c.ID, p, in)
	if out == nil {
		return nil, fmt.Errorf("failed to run decision: %w", runErr)
	}

	s.writeBack(c, in.Amount(), out)
	if err := s.cases.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save evaluated case: %w", err)
	}

	s.logger.InfoContext(ctx, "decision run completed",
		"case_id", c.ID,
		"run_id", out.Run.RunID,
		"policy_id", p.PolicyID,
		"policy_version", p.Version,
		"decision", out.Recommendation.Decision,
		"risk_level", out.RiskLevel)

	result := &RunResult{Case: c, Policy: p.Ref(), Outcome: out}
	if runErr != nil {
		return result, fmt.Errorf("%w: %w", ErrAuditIncomplete, runErr)
	}
	return result, nil
}

func (s *Service) loadPolicy(ctx context.Context, policyID, version string) (*policy.Policy, error) {
	if version == LatestVersion {
		return s.policies.Latest(ctx, policyID)
	}
	return s.policies.Get(ctx, policyID, version)
}

// boundPolicy resolves the policy to run: explicit arguments, then the case
// payload's policy_id and policy_version, then the defaults.
func boundPolicy(payload map[string]any, policyID, version string) (string, string) {
	business := BusinessPayload(payload)
	pick := func(explicit, key, fallback string) string {
		if explicit != "" {
			return explicit
		}
		for _, layer := range []map[string]any{payload, business} {
			if v, ok := layer[key].(string); ok && v != "" {
				return v
			}
		}
		return fallback
	}
	return pick(policyID, "policy_id", DefaultPolicyID), pick(version, "policy_version", DefaultPolicyVersion)
}

// writeBack records the outcome on the case payload the way case screens read it
func (s *Service) writeBack(c *Case, amount float64, out *rules.Outcome) {
	if c.Payload == nil {
		c.Payload = map[string]any{}
	}
	now := s.now().UTC()
	decision := out.Recommendation.Decision

	updates := map[string]any{
		"amount_total":      amount,
		"risk_level":        out.RiskLevel,
		"last_decision":     decision,
		"last_run_id":       out.Run.RunID,
		"evaluated_at":      now.Format(time.RFC3339Nano),
		"last_rule_results": out.RuleResults,
	}
	business := BusinessPayload(c.Payload)
	for k, v := range updates {
		business[k] = v
		c.Payload[k] = v
	}

	c.Payload["decision_summary"] = map[string]any{
		"decision_required":  decision != policy.DecisionApprove,
		"risk_level":         out.RiskLevel,
		"recommended_action": decision,
		"violated_rules":     out.HitRuleIDs(),
		"reason":             fmt.Sprintf("Risk detected based on %d drivers.", len(out.RiskDrivers)),
	}

	drivers := make([]map[string]any, 0, len(out.RiskDrivers))
	for _, d := range out.RiskDrivers {
		color := "orange"
		if d.Impact == policy.RiskCritical {
			color = "red"
		}
		drivers = append(drivers, map[string]any{
			"label":  d.RuleID,
			"detail": d.Description,
			"color":  color,
		})
	}
	c.Payload["story"] = map[string]any{
		"headline":     fmt.Sprintf("Why this case is %s", out.RiskLevel),
		"risk_drivers": drivers,
		"suggested_action": map[string]any{
			"title":       decision,
			"description": "System recommendation based on policy logic.",
		},
	}

	c.Status = StatusEvaluated
	if decision == policy.DecisionApprove {
		c.Status = StatusApproved
	}
	c.UpdatedAt = now
}
