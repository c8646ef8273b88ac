// Package cases holds the caller side of the decision engine: procurement case
// records, normalization of raw case payloads into evaluation inputs, the vendor
// contract directory, and the service that runs a decision and records it on the case.
package cases

import (
	"context"
	"errors"
	"time"
)

// ErrCaseNotFound is returned when a case does not exist
var ErrCaseNotFound = errors.New("case not found")

// Case statuses written by a decision run
const (
	StatusOpen      = "OPEN"
	StatusEvaluated = "EVALUATED"
	StatusApproved  = "APPROVED"
)

// Case is a procurement case. Payload is the raw business document as ingested,
// possibly wrapped in nested "payload" objects.
type Case struct {
	ID        string         `json:"case_id"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store persists cases
type Store interface {
	// Get returns the case or ErrCaseNotFound
	Get(ctx context.Context, caseID string) (*Case, error)

	// Save creates or replaces a case
	Save(ctx context.Context, c *Case) error
}
