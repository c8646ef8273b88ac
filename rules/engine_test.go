package rules

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/liamcoop/casereview/audit"
	"github.com/liamcoop/casereview/policy"
)

// TestEngine_Scenarios verifies end-to-end decisions for representative cases
func TestEngine_Scenarios(t *testing.T) {
	p := loadPolicy(t, scenarioPolicy)
	engine := NewEngine(WithLogger(discardLogger))

	tests := []struct {
		name     string
		in       Input
		wantHits []string
		wantDec  policy.Decision
		wantRisk policy.RiskLevel
		wantRole string
	}{
		{
			name:     "pass",
			in:       Input{"amount_total": 150000.0, "vendor_status": "ACTIVE", "hours_to_sla": 48},
			wantHits: []string{},
			wantDec:  policy.DecisionApprove,
			wantRisk: policy.RiskLow,
			wantRole: DefaultRequiredRole,
		},
		{
			name:     "escalate",
			in:       Input{"amount_total": 387500.0, "vendor_status": "ACTIVE", "hours_to_sla": 48},
			wantHits: []string{"HIGH_AMOUNT_ESCALATION"},
			wantDec:  policy.DecisionEscalate,
			wantRisk: policy.RiskHigh,
			wantRole: "Finance_Director",
		},
		{
			name:     "reject below medium threshold",
			in:       Input{"amount_total": 120000.0, "vendor_status": "BLACKLISTED", "hours_to_sla": 48},
			wantHits: []string{"VENDOR_BLACKLIST_CHECK"},
			wantDec:  policy.DecisionReject,
			wantRisk: policy.RiskCritical,
			wantRole: DefaultRequiredRole,
		},
		{
			name:     "review without risk impact",
			in:       Input{"amount_total": 1000.0, "vendor_status": "ACTIVE", "hours_to_sla": 4},
			wantHits: []string{"SLA_BREACH_RISK"},
			wantDec:  policy.DecisionReview,
			wantRisk: policy.RiskLow,
			wantRole: DefaultRequiredRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.Evaluate(context.Background(), p, tt.in)
			if err != nil {
				t.Fatalf("Evaluate() failed: %v", err)
			}
			if got := res.HitRuleIDs(); !reflect.DeepEqual(got, tt.wantHits) {
				t.Errorf("hits = %v, want %v", got, tt.wantHits)
			}
			if res.Recommendation.Decision != tt.wantDec {
				t.Errorf("Decision = %s, want %s", res.Recommendation.Decision, tt.wantDec)
			}
			if res.RiskLevel != tt.wantRisk {
				t.Errorf("RiskLevel = %s, want %s", res.RiskLevel, tt.wantRisk)
			}
			if res.Recommendation.RequiredRole != tt.wantRole {
				t.Errorf("RequiredRole = %s, want %s", res.Recommendation.RequiredRole, tt.wantRole)
			}
			if len(res.RuleResults) != len(p.Rules) {
				t.Errorf("got %d results, want one per deterministic rule", len(res.RuleResults))
			}
		})
	}
}

// TestEngine_ContractVariance verifies contract hits carry evidence and drive risk only when declared
func TestEngine_ContractVariance(t *testing.T) {
	declared := strings.Replace(contractPolicy, "rules: []", `rules:
  - id: CONTRACT_PRICE_VARIANCE
    type: contract
    then: { decision: ESCALATE }
    risk_impact: HIGH`, 1)

	tests := []struct {
		name         string
		doc          string
		wantRisk     policy.RiskLevel
		wantDecision policy.Decision
		wantDrivers  int
	}{
		{"undeclared contract rule", contractPolicy, policy.RiskLow, policy.DecisionApprove, 0},
		{"declared contract rule", declared, policy.RiskHigh, policy.DecisionEscalate, 1},
	}

	engine := NewEngine(WithLogger(discardLogger))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.Evaluate(context.Background(), loadPolicy(t, tt.doc), contractInput(nil,
				map[string]float64{"X": 100},
				LineItem{SKU: "X", UnitPrice: 120, Quantity: 1},
			))
			if err != nil {
				t.Fatalf("Evaluate() failed: %v", err)
			}

			r, ok := findResult(res.RuleResults, policy.RuleContractPriceVariance)
			if !ok || !r.Hit {
				t.Fatalf("CONTRACT_PRICE_VARIANCE should hit, got %+v", res.RuleResults)
			}
			if v := r.Matched[0].Variance; v == nil || *v != 20 {
				t.Errorf("variance = %v, want 20", v)
			}
			if r.Severity != policy.RiskHigh {
				t.Errorf("Severity = %s, want HIGH", r.Severity)
			}
			if res.RiskLevel != tt.wantRisk {
				t.Errorf("RiskLevel = %s, want %s", res.RiskLevel, tt.wantRisk)
			}
			if len(res.RiskDrivers) != tt.wantDrivers {
				t.Errorf("drivers = %+v, want %d", res.RiskDrivers, tt.wantDrivers)
			}
			if res.Recommendation.Decision != tt.wantDecision {
				t.Errorf("Decision = %s, want %s", res.Recommendation.Decision, tt.wantDecision)
			}
		})
	}

	res, err := engine.Evaluate(context.Background(), loadPolicy(t, contractPolicy), Input{
		"amount_total":  150000.0,
		"vendor_status": "ACTIVE",
		FieldLineItems:  []LineItem{{SKU: "X", UnitPrice: 120}},
	})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if got := res.HitRuleIDs(); !reflect.DeepEqual(got, []string{policy.RuleNoContractReference}) {
		t.Errorf("hits without contract = %v, want only NO_CONTRACT_REFERENCE", got)
	}
	if res.RiskLevel != policy.RiskLow || res.Recommendation.Decision != policy.DecisionApprove {
		t.Errorf("undeclared missing contract = %s/%s, want LOW/APPROVE", res.RiskLevel, res.Recommendation.Decision)
	}
}

// TestEngine_SafetyNetOverride verifies the amount override applies without any risk impact
func TestEngine_SafetyNetOverride(t *testing.T) {
	p := loadPolicy(t, `
policy_id: NO-IMPACT
version: "1"
rules:
  - id: ANY_AMOUNT
    when: [{ field: amount_total, operator: ">", value: 0 }]
    then: { decision: REVIEW }
thresholds:
  amount: { medium: 100000, high: 500000 }
config: { high_risk_threshold: 1000000, force_risk_level: CRITICAL }
`)
	engine := NewEngine(WithLogger(discardLogger))

	tests := []struct {
		amount float64
		want   policy.RiskLevel
	}{
		{1000000, policy.RiskHigh},
		{1000001, policy.RiskCritical},
	}

	for _, tt := range tests {
		res, err := engine.Evaluate(context.Background(), p, Input{"amount_total": tt.amount})
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if res.RiskLevel != tt.want {
			t.Errorf("amount %v: RiskLevel = %s, want %s", tt.amount, res.RiskLevel, tt.want)
		}
		if len(res.RiskDrivers) != 0 {
			t.Errorf("amount %v: drivers = %+v, want none", tt.amount, res.RiskDrivers)
		}
	}
}

// TestEngine_ProcurementPolicy verifies the shipped policy against a realistic case
func TestEngine_ProcurementPolicy(t *testing.T) {
	p, err := policy.LoadFile(procurementPolicyPath, policy.LoadOptions{})
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	engine := NewEngine(WithLogger(discardLogger))

	in := Input{
		"amount_total":     387500.0,
		"vendor_status":    "ACTIVE",
		"vendor_rating":    95,
		"hours_to_sla":     48,
		"budget_remaining": 10000.0,
		FieldContract: ContractRef{
			DocID:  "CTR-2024-001",
			Prices: map[string]float64{"LAP-14": 1200, "DOCK-USB-C": 150},
		},
		FieldLineItems: []LineItem{
			{SKU: "LAP-14", UnitPrice: 1290, Quantity: 250},
			{SKU: "DOCK-USB-C", UnitPrice: 150, Quantity: 500},
		},
	}

	res, err := engine.Evaluate(context.Background(), p, in)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	want := []string{"HIGH_AMOUNT_ESCALATION", policy.RuleContractPriceVariance}
	if got := res.HitRuleIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("hits = %v, want %v", got, want)
	}
	if res.Recommendation.Decision != policy.DecisionEscalate {
		t.Errorf("Decision = %s, want ESCALATE", res.Recommendation.Decision)
	}
	if res.RiskLevel != policy.RiskHigh {
		t.Errorf("RiskLevel = %s, want HIGH", res.RiskLevel)
	}
	if res.Recommendation.RequiredRole != "Finance_Director" {
		t.Errorf("RequiredRole = %s, want Finance_Director", res.Recommendation.RequiredRole)
	}
	if _, ok := findResult(res.RuleResults, "POTENTIAL_SPLIT_PURCHASE"); ok {
		t.Error("inactive semantic rule should not be evaluated")
	}
}

// TestEngine_NilPolicy verifies the only hard failure of an evaluation
func TestEngine_NilPolicy(t *testing.T) {
	engine := NewEngine()

	if _, err := engine.Evaluate(context.Background(), nil, Input{}); !errors.Is(err, ErrNilPolicy) {
		t.Errorf("Evaluate(nil) error = %v, want ErrNilPolicy", err)
	}
	if _, err := engine.Run(context.Background(), "CASE-1", nil, Input{}); !errors.Is(err, ErrNilPolicy) {
		t.Errorf("Run(nil) error = %v, want ErrNilPolicy", err)
	}
}

// TestEngine_Idempotent verifies repeated evaluations produce identical results
func TestEngine_Idempotent(t *testing.T) {
	p := loadPolicy(t, scenarioPolicy)
	engine := NewEngine(WithLogger(discardLogger))
	in := Input{"amount_total": 387500.0, "vendor_status": "BLACKLISTED", "hours_to_sla": 2}

	first, _ := engine.Evaluate(context.Background(), p, in)
	second, _ := engine.Evaluate(context.Background(), p, in)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
}

// TestEngine_RunNarratesEvents verifies the ordered audit trail of one run
func TestEngine_RunNarratesEvents(t *testing.T) {
	p := loadPolicy(t, scenarioPolicy)
	sink := audit.NewMemorySink()
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	engine := NewEngine(
		WithAuditSink(sink),
		WithLogger(discardLogger),
		WithClock(func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		}),
	)

	out, err := engine.Run(context.Background(), "CASE-1001", p, Input{"amount_total": 387500.0})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	events := sink.Events()
	wantTypes := []audit.EventType{
		audit.EventRunStarted,
		audit.EventRuleEvaluated,
		audit.EventRuleEvaluated,
		audit.EventRuleEvaluated,
		audit.EventRiskLevelDerived,
		audit.EventDecisionRecommended,
		audit.EventRunCompleted,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTypes))
	}
	for i, e := range events {
		if e.Type != wantTypes[i] {
			t.Errorf("event %d type = %s, want %s", i, e.Type, wantTypes[i])
		}
		if e.RunID != out.Run.RunID || e.CaseID != "CASE-1001" {
			t.Errorf("event %d belongs to run %s case %s", i, e.RunID, e.CaseID)
		}
		if e.Payload["run_id"] != out.Run.RunID {
			t.Errorf("event %d payload run_id = %v", i, e.Payload["run_id"])
		}
		if i > 0 && !e.CreatedAt.After(events[i-1].CreatedAt) {
			t.Errorf("event %d not after event %d", i, i-1)
		}
	}

	if out.WrittenEvents != len(wantTypes) {
		t.Errorf("WrittenEvents = %d, want %d", out.WrittenEvents, len(wantTypes))
	}
	if out.Run.EndedAt == nil || !out.Run.EndedAt.After(out.Run.StartedAt) {
		t.Errorf("run timestamps = %v .. %v", out.Run.StartedAt, out.Run.EndedAt)
	}
	if out.Run.PolicyHash != p.Hash() {
		t.Errorf("PolicyHash = %s, want %s", out.Run.PolicyHash, p.Hash())
	}
	if events[0].Payload["policy_hash"] != p.Hash() {
		t.Errorf("started payload = %v, want policy_hash", events[0].Payload)
	}
	if events[len(events)-1].Payload["decision"] != policy.DecisionEscalate {
		t.Errorf("completed payload = %v, want ESCALATE", events[len(events)-1].Payload)
	}
}

type failingSink struct {
	okAppends int
	appended  int
}

func (s *failingSink) Append(_ context.Context, _ audit.Event) error {
	if s.appended >= s.okAppends {
		return errors.New("disk full")
	}
	s.appended++
	return nil
}

// TestEngine_RunStartedSnapshotsInputs verifies the started event does not share the caller's input map
func TestEngine_RunStartedSnapshotsInputs(t *testing.T) {
	sink := audit.NewMemorySink()
	engine := NewEngine(WithAuditSink(sink), WithLogger(discardLogger))

	in := Input{"amount_total": 387500.0}
	if _, err := engine.Run(context.Background(), "CASE-1001", loadPolicy(t, scenarioPolicy), in); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	in["amount_total"] = 1.0
	in["vendor_status"] = "BLACKLISTED"

	got, ok := sink.Events()[0].Payload["inputs"].(Input)
	if !ok {
		t.Fatalf("started inputs = %T, want Input", sink.Events()[0].Payload["inputs"])
	}
	if got["amount_total"] != 387500.0 || len(got) != 1 {
		t.Errorf("started inputs = %v, want the inputs at run time", got)
	}
	if _, leaked := in["case_id"]; leaked {
		t.Errorf("caller inputs gained case_id: %v", in)
	}
}

// TestEngine_RunSinkFailure verifies narration stops at the first sink error
func TestEngine_RunSinkFailure(t *testing.T) {
	p := loadPolicy(t, scenarioPolicy)
	sink := &failingSink{okAppends: 2}
	engine := NewEngine(WithAuditSink(sink), WithLogger(discardLogger))

	out, err := engine.Run(context.Background(), "CASE-1", p, Input{"vendor_status": "BLACKLISTED"})
	if err == nil {
		t.Fatal("Run() should report the incomplete trail")
	}
	if out == nil || out.Recommendation.Decision != policy.DecisionReject {
		t.Fatalf("outcome = %+v, want the complete REJECT result", out)
	}
	if out.WrittenEvents != 2 || sink.appended != 2 {
		t.Errorf("WrittenEvents = %d, appended = %d, want 2", out.WrittenEvents, sink.appended)
	}
}

// TestEngine_RunWithoutSink verifies Run works with nothing to narrate to
func TestEngine_RunWithoutSink(t *testing.T) {
	p := loadPolicy(t, scenarioPolicy)

	out, err := NewEngine(WithLogger(discardLogger)).Run(context.Background(), "CASE-1", p, nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if out.WrittenEvents != 0 || out.Run.RunID == "" {
		t.Errorf("outcome = %+v, want a run id and no events", out.Run)
	}
}
