// Package audit records the append-only trail of decision runs.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a step of a decision run
type EventType string

// Event types, emitted in this order for every run
const (
	EventRunStarted          EventType = "DECISION_RUN_STARTED"
	EventRuleEvaluated       EventType = "RULE_EVALUATED"
	EventRiskLevelDerived    EventType = "RISK_LEVEL_DERIVED"
	EventDecisionRecommended EventType = "DECISION_RECOMMENDED"
	EventRunCompleted        EventType = "DECISION_RUN_COMPLETED"
)

// ActorSystem is the actor of events written by the engine itself
const ActorSystem = "SYSTEM"

// Event is one audit record
type Event struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"case_id"`
	RunID     string         `json:"run_id,omitempty"`
	Type      EventType      `json:"event_type"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent creates an event stamped with a fresh ID and the given time
func NewEvent(caseID, runID string, typ EventType, payload map[string]any, at time.Time) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		RunID:     runID,
		Type:      typ,
		Actor:     ActorSystem,
		Payload:   payload,
		CreatedAt: at.UTC(),
	}
}

// withDefaults fills the ID, actor and timestamp of hand-built events
func (e Event) withDefaults() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Actor == "" {
		e.Actor = ActorSystem
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e
}

// Sink accepts audit events. Implementations must be safe for concurrent use
// and must preserve the order in which one goroutine appends.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// Reader queries the audit trail of a case
type Reader interface {
	// ListByCase returns a case's events ordered by creation time, then insertion order
	ListByCase(ctx context.Context, caseID string) ([]Event, error)
}

// Store is a queryable sink
type Store interface {
	Sink
	Reader
}

// timeLayout is a fixed-width UTC layout so text timestamps sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z"
