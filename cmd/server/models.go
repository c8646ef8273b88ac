package main

import (
	"time"

	"github.com/liamcoop/casereview/audit"
	"github.com/liamcoop/casereview/cases"
	"github.com/liamcoop/casereview/internal/logger"
	"github.com/liamcoop/casereview/policy"
	"github.com/liamcoop/casereview/rules"
)

// API request and response models

// RunDecisionRequest is the body of POST /api/v1/decisions/run.
// The case route takes the case id from the path and accepts the same policy fields.
type RunDecisionRequest struct {
	CaseID        string `json:"case_id" example:"CASE-1001"`
	PolicyID      string `json:"policy_id,omitempty" example:"PROCUREMENT-001"`
	PolicyVersion string `json:"policy_version,omitempty" example:"v3.1"`
}

// RunDecisionResponse is the result of a decision run on a stored case
type RunDecisionResponse struct {
	CaseID         string               `json:"case_id"`
	RunID          string               `json:"run_id"`
	Policy         policy.Ref           `json:"policy"`
	Status         string               `json:"status"`
	RuleResults    []rules.RuleResult   `json:"rule_results"`
	Recommendation rules.Recommendation `json:"recommendation"`
	RiskLevel      policy.RiskLevel     `json:"risk_level"`
	RiskDrivers    []rules.RiskDriver   `json:"risk_drivers"`
	WrittenEvents  int                  `json:"written_events"`
	AuditWarning   string               `json:"audit_warning,omitempty"`
}

func newRunDecisionResponse(res *cases.RunResult) RunDecisionResponse {
	out := res.Outcome
	return RunDecisionResponse{
		CaseID:         res.Case.ID,
		RunID:          out.Run.RunID,
		Policy:         res.Policy,
		Status:         res.Case.Status,
		RuleResults:    out.RuleResults,
		Recommendation: out.Recommendation,
		RiskLevel:      out.RiskLevel,
		RiskDrivers:    out.RiskDrivers,
		WrittenEvents:  out.WrittenEvents,
	}
}

// EvaluateRequest is a dry-run evaluation. Inputs must already be normalized;
// Payload is a raw case payload that is normalized against the contract directory.
type EvaluateRequest struct {
	PolicyID      string         `json:"policy_id" example:"PROCUREMENT-001"`
	PolicyVersion string         `json:"policy_version" example:"v3.1"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// EvaluateResponse is the result of a dry-run evaluation
type EvaluateResponse struct {
	Policy         policy.Ref `json:"policy"`
	*rules.Result
	EvaluationTime string `json:"evaluationTime" example:"2.3ms"`
}

// SaveCaseRequest is the body of PUT /api/v1/cases/{caseId}
type SaveCaseRequest struct {
	Status  string         `json:"status,omitempty" example:"OPEN"`
	Payload map[string]any `json:"payload"`
}

// AuditResponse is a case's audit timeline
type AuditResponse struct {
	CaseID string        `json:"case_id"`
	Events []audit.Event `json:"events"`
}

// PoliciesListResponse lists stored policy versions
type PoliciesListResponse struct {
	Policies []policy.Ref `json:"policies"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"policy not found"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string          `json:"status" example:"healthy"`
	Storage  string          `json:"storage" example:"postgres"`
	Error    string          `json:"error,omitempty"`
	Counters logger.Counters `json:"counters"`
	Time     time.Time       `json:"time"`
}
