package rules

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/casereview/audit"
	"github.com/liamcoop/casereview/policy"
)

// ErrNilPolicy is returned when an evaluation is started without a policy
var ErrNilPolicy = errors.New("policy is nil")

// Engine runs the decision pipeline: deterministic rules, contract checks and
// semantic rules, then risk derivation and recommendation.
//
// An Engine holds only its collaborators and is safe for concurrent use.
// The caller owns policy lifecycle; nothing is cached between evaluations.
type Engine struct {
	semantic SemanticChecker
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithSemanticChecker sets the collaborator that judges semantic rules
func WithSemanticChecker(c SemanticChecker) Option {
	return func(e *Engine) { e.semantic = c }
}

// WithAuditSink sets where Run narrates its events
func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger for degraded checks and audit failures
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used to stamp runs and events
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. Without a semantic checker, semantic rules are
// reported as degraded misses; without a sink, Run emits nothing.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the pipeline for p against in. It only fails for a nil policy;
// input, policy and collaborator problems degrade to misses.
func (e *Engine) Evaluate(ctx context.Context, p *policy.Policy, in Input) (*Result, error) {
	if p == nil {
		return nil, ErrNilPolicy
	}
	return e.evaluate(ctx, p, in, e.logger), nil
}

func (e *Engine) evaluate(ctx context.Context, p *policy.Policy, in Input, logger *slog.Logger) *Result {
	if in == nil {
		in = Input{}
	}

	// Risk and recommendation need the complete hit set
	results := EvaluateRules(p.Rules, in)
	results = append(results, CheckContract(p, in)...)
	results = append(results, EvaluateSemantic(ctx, e.semantic, p.Rules, in, logger)...)

	res := &Result{RuleResults: results}
	res.RiskDrivers = CollectRiskDrivers(p, results)
	res.RiskLevel = DeriveRisk(p, res.RiskDrivers, in.Amount())
	res.Recommendation = Recommend(p, res.HitRuleIDs(), in)
	return res
}

// Run evaluates a case and narrates the run to the audit sink:
// DECISION_RUN_STARTED, one RULE_EVALUATED per result, RISK_LEVEL_DERIVED,
// DECISION_RECOMMENDED, DECISION_RUN_COMPLETED.
//
// If the sink rejects an event, narration stops and Run returns the complete
// outcome together with an error saying the trail is incomplete.
func (e *Engine) Run(ctx context.Context, caseID string, p *policy.Policy, in Input) (*Outcome, error) {
	if p == nil {
		return nil, ErrNilPolicy
	}
	if in == nil {
		in = Input{}
	}

	run := Run{
		RunID:         uuid.NewString(),
		CaseID:        caseID,
		PolicyID:      p.PolicyID,
		PolicyVersion: p.Version,
		PolicyHash:    p.Hash(),
		StartedAt:     e.now().UTC(),
	}
	logger := e.logger.With("case_id", caseID, "run_id", run.RunID)

	n := &narrator{sink: e.sink, run: run, now: e.now}
	n.started(ctx, in)

	res := e.evaluate(ctx, p, in, logger)

	for _, r := range res.RuleResults {
		n.ruleEvaluated(ctx, p, r, in)
	}
	n.riskDerived(ctx, p, res, in.Amount())
	n.recommended(ctx, res.Recommendation)

	ended := e.now().UTC()
	run.EndedAt = &ended
	n.run.EndedAt = &ended
	n.completed(ctx, res)

	if n.err != nil {
		logger.ErrorContext(ctx, "audit trail incomplete", "written_events", n.written, "error", n.err)
	}

	return &Outcome{Result: *res, Run: run, WrittenEvents: n.written}, n.err
}
