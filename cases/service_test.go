package cases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/casereview/audit"
	"github.com/liamcoop/casereview/policy"
	"github.com/liamcoop/casereview/rules"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type serviceFixture struct {
	service *Service
	cases   *MemoryStore
	sink    *audit.MemorySink
}

func newServiceFixture(t *testing.T, sink audit.Sink) serviceFixture {
	t.Helper()

	p, err := policy.LoadFile("../testdata/policies/procurement_policy_v3.yaml", policy.LoadOptions{})
	require.NoError(t, err)

	policies := policy.NewInMemoryStore()
	require.NoError(t, policies.Put(context.Background(), p))

	mem := audit.NewMemorySink()
	if sink == nil {
		sink = mem
	}

	store := NewMemoryStore()
	for _, path := range []string{"../testdata/cases/high_amount.json", "../testdata/cases/blacklisted.json"} {
		require.NoError(t, store.Save(context.Background(), loadCaseFile(t, path)))
	}

	engine := rules.NewEngine(rules.WithAuditSink(sink), rules.WithLogger(quietLogger))
	svc := NewService(store, policies, engine, loadDirectory(t), quietLogger)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	return serviceFixture{service: svc, cases: store, sink: mem}
}

// TestService_RunDecision verifies a nested case is evaluated and the outcome written back
func TestService_RunDecision(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	res, err := f.service.RunDecision(ctx, "CASE-1001", "", "")
	require.NoError(t, err)

	assert.Equal(t, policy.Ref{PolicyID: DefaultPolicyID, Version: DefaultPolicyVersion, Hash: res.Policy.Hash}, res.Policy)
	assert.Equal(t, policy.DecisionEscalate, res.Outcome.Recommendation.Decision)
	assert.Equal(t, policy.RiskHigh, res.Outcome.RiskLevel)
	assert.Equal(t, []string{"HIGH_AMOUNT_ESCALATION", policy.RuleContractPriceVariance}, res.Outcome.HitRuleIDs())

	stored, err := f.cases.Get(ctx, "CASE-1001")
	require.NoError(t, err)
	assert.Equal(t, StatusEvaluated, stored.Status)
	assert.Equal(t, "HIGH", stored.Payload["risk_level"])
	assert.Equal(t, "ESCALATE", stored.Payload["last_decision"])
	assert.Equal(t, "2024-06-01T12:00:00Z", stored.Payload["evaluated_at"])

	business := BusinessPayload(stored.Payload)
	assert.Equal(t, 387500.0, business["amount_total"])
	assert.Equal(t, res.Outcome.Run.RunID, business["last_run_id"])

	summary, ok := stored.Payload["decision_summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, summary["decision_required"])
	assert.Equal(t, "Risk detected based on 2 drivers.", summary["reason"])

	story, ok := stored.Payload["story"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Why this case is HIGH", story["headline"])
	drivers, ok := story["risk_drivers"].([]any)
	require.True(t, ok)
	require.Len(t, drivers, 2)
	assert.Equal(t, "orange", drivers[0].(map[string]any)["color"])

	events, err := f.sink.ListByCase(ctx, "CASE-1001")
	require.NoError(t, err)
	assert.Equal(t, res.Outcome.WrittenEvents, len(events))
	assert.Equal(t, audit.EventRunStarted, events[0].Type)
}

// TestService_RunDecision_Critical verifies a blacklisted vendor's story is marked red
func TestService_RunDecision_Critical(t *testing.T) {
	f := newServiceFixture(t, nil)

	res, err := f.service.RunDecision(context.Background(), "CASE-1002", DefaultPolicyID, LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionReject, res.Outcome.Recommendation.Decision)
	assert.Equal(t, policy.RiskCritical, res.Outcome.RiskLevel)

	story := res.Case.Payload["story"].(map[string]any)
	drivers := story["risk_drivers"].([]map[string]any)
	colors := map[string]string{}
	for _, d := range drivers {
		colors[d["label"].(string)] = d["color"].(string)
	}
	assert.Equal(t, "red", colors["VENDOR_BLACKLIST_CHECK"])
	assert.Equal(t, "orange", colors[policy.RuleNoContractReference])
}

// TestService_RunDecision_Approved verifies an approved case changes status
func TestService_RunDecision_Approved(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.cases.Save(ctx, &Case{
		ID:     "CASE-1003",
		Status: StatusOpen,
		Payload: map[string]any{
			"vendor_name":    "Good Supplier Ltd.",
			"amount_total":   2400.0,
			"policy_id":      DefaultPolicyID,
			"policy_version": DefaultPolicyVersion,
			"line_items":     []any{map[string]any{"sku": "LAP-14", "unit_price": 1200.0, "quantity": 2.0}},
		},
	}))

	res, err := f.service.RunDecision(ctx, "CASE-1003", "", "")
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionApprove, res.Outcome.Recommendation.Decision)
	assert.Equal(t, StatusApproved, res.Case.Status)
	assert.Equal(t, false, res.Case.Payload["decision_summary"].(map[string]any)["decision_required"])
}

// TestService_RunDecision_NotFound verifies missing cases and policies are reported
func TestService_RunDecision_NotFound(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.RunDecision(ctx, "CASE-404", "", "")
	assert.ErrorIs(t, err, ErrCaseNotFound)

	_, err = f.service.RunDecision(ctx, "CASE-1001", "PROCUREMENT-001", "v9")
	assert.ErrorIs(t, err, policy.ErrNotFound)
}

type brokenSink struct{}

func (brokenSink) Append(context.Context, audit.Event) error { return errors.New("connection reset") }

// TestService_RunDecision_AuditFailure verifies the case is updated even when the trail is incomplete
func TestService_RunDecision_AuditFailure(t *testing.T) {
	f := newServiceFixture(t, brokenSink{})

	res, err := f.service.RunDecision(context.Background(), "CASE-1001", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuditIncomplete)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Outcome.WrittenEvents)

	stored, err := f.cases.Get(context.Background(), "CASE-1001")
	require.NoError(t, err)
	assert.Equal(t, StatusEvaluated, stored.Status)
}

// TestBoundPolicy verifies explicit, payload and default policy resolution
func TestBoundPolicy(t *testing.T) {
	nested := map[string]any{"payload": map[string]any{"vendor": "V", "policy_version": "v2"}}

	tests := []struct {
		name        string
		payload     map[string]any
		id, version string
		wantID      string
		wantVersion string
	}{
		{"explicit", map[string]any{"policy_id": "X"}, "P", "1", "P", "1"},
		{"payload", map[string]any{"policy_id": "X", "policy_version": "7"}, "", "", "X", "7"},
		{"nested", nested, "", "", DefaultPolicyID, "v2"},
		{"defaults", nil, "", "", DefaultPolicyID, DefaultPolicyVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, version := boundPolicy(tt.payload, tt.id, tt.version)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}
