package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by the cases table
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed case store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves a case by ID
func (s *PostgresStore) Get(ctx context.Context, caseID string) (*Case, error) {
	var (
		c       Case
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, payload, created_at, updated_at FROM cases WHERE id = $1
	`, caseID).Scan(&c.ID, &c.Status, &payload, &c.CreatedAt, &c.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}

	if err := json.Unmarshal(payload, &c.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode case payload: %w", err)
	}
	return &c, nil
}

// Save inserts a case or replaces its status and payload
func (s *PostgresStore) Save(ctx context.Context, c *Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("case ID cannot be empty")
	}

	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode case payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cases (id, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, c.ID, c.Status, string(payload), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}

	return nil
}
