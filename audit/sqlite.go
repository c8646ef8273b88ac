package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	case_id     TEXT NOT NULL,
	run_id      TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	actor       TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_case ON audit_events(case_id, created_at);
`

// SQLiteSink implements Store on an embedded SQLite database
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite audit database and ensures its schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Close closes the underlying database
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Append inserts an event
func (s *SQLiteSink) Append(ctx context.Context, e Event) error {
	e = e.withDefaults()

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, case_id, run_id, event_type, actor, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CaseID, e.RunID, string(e.Type), e.Actor, string(payload), e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByCase returns a case's events ordered by creation time, then insertion order
func (s *SQLiteSink) ListByCase(ctx context.Context, caseID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, run_id, event_type, actor, payload, created_at
		FROM audit_events
		WHERE case_id = ?
		ORDER BY created_at ASC, seq ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e                  Event
			typ, payload, when string
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.RunID, &typ, &e.Actor, &payload, &when); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = EventType(typ)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if e.CreatedAt, err = time.Parse(timeLayout, when); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
