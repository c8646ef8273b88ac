package rules

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/liamcoop/casereview/audit"
	"github.com/liamcoop/casereview/policy"
)

// narrator emits the ordered audit events of one run. After the first sink
// error it stops emitting, so a reader never sees a trail with holes in it.
type narrator struct {
	sink    audit.Sink
	run     Run
	now     func() time.Time
	written int
	err     error
}

func (n *narrator) emit(ctx context.Context, typ audit.EventType, payload map[string]any) {
	if n.sink == nil || n.err != nil {
		return
	}

	payload["case_id"] = n.run.CaseID
	payload["run_id"] = n.run.RunID

	e := audit.NewEvent(n.run.CaseID, n.run.RunID, typ, payload, n.now())
	if err := n.sink.Append(ctx, e); err != nil {
		n.err = fmt.Errorf("failed to append %s event: %w", typ, err)
		return
	}
	n.written++
}

func (n *narrator) started(ctx context.Context, in Input) {
	n.emit(ctx, audit.EventRunStarted, map[string]any{
		"policy_id":      n.run.PolicyID,
		"policy_version": n.run.PolicyVersion,
		"policy_hash":    n.run.PolicyHash,
		"inputs":         maps.Clone(in),
	})
}

func (n *narrator) ruleEvaluated(ctx context.Context, p *policy.Policy, r RuleResult, in Input) {
	payload := map[string]any{
		"rule": map[string]any{
			"id":          r.RuleID,
			"description": r.Description,
			"type":        r.Kind.String(),
		},
		"hit":     r.Hit,
		"matched": r.Matched,
		"inputs":  Explain(p, r, in),
	}
	if r.Severity != "" {
		payload["severity"] = r.Severity
	}
	if r.DocReference != "" {
		payload["doc_reference"] = r.DocReference
	}
	if r.InputsSnapshot != nil {
		payload["inputs_snapshot"] = r.InputsSnapshot
	}
	if r.Reason != "" {
		payload["reason"] = r.Reason
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}
	n.emit(ctx, audit.EventRuleEvaluated, payload)
}

func (n *narrator) riskDerived(ctx context.Context, p *policy.Policy, res *Result, amount float64) {
	n.emit(ctx, audit.EventRiskLevelDerived, map[string]any{
		"risk_level": res.RiskLevel,
		"derived_from": map[string]any{
			"policy_id":    p.PolicyID,
			"version":      p.Version,
			"decision":     res.Recommendation.Decision,
			"amount":       amount,
			"risk_drivers": res.RiskDrivers,
		},
	})
}

func (n *narrator) recommended(ctx context.Context, rec Recommendation) {
	n.emit(ctx, audit.EventDecisionRecommended, map[string]any{
		"recommendation": rec,
	})
}

func (n *narrator) completed(ctx context.Context, res *Result) {
	payload := map[string]any{
		"decision":   res.Recommendation.Decision,
		"risk_level": res.RiskLevel,
	}
	if n.run.EndedAt != nil {
		payload["ended_at"] = *n.run.EndedAt
	}
	n.emit(ctx, audit.EventRunCompleted, payload)
}
