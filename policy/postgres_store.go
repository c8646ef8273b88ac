package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by the policies table.
// Documents are stored as the original YAML and re-parsed on read.
type PostgresStore struct {
	db   *sql.DB
	opts LoadOptions
}

// NewPostgresStore creates a PostgreSQL-backed policy store. opts are applied
// when stored documents are parsed back into policies.
func NewPostgresStore(db *sql.DB, opts LoadOptions) *PostgresStore {
	return &PostgresStore{
		db:   db,
		opts: opts,
	}
}

// Put inserts a policy version, or does nothing if identical content is already stored
func (s *PostgresStore) Put(ctx context.Context, p *Policy) error {
	if p == nil {
		return fmt.Errorf("policy cannot be nil")
	}

	var existingHash string
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash FROM policies WHERE policy_id = $1 AND version = $2
	`, p.PolicyID, p.Version).Scan(&existingHash)
	switch {
	case err == nil:
		if existingHash != p.Hash() {
			return fmt.Errorf("policy %s %s: %w", p.PolicyID, p.Version, ErrImmutable)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check policy existence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (policy_id, version, name, content_hash, document)
		VALUES ($1, $2, $3, $4, $5)
	`, p.PolicyID, p.Version, p.Name, p.Hash(), string(p.Document()))
	if err != nil {
		return fmt.Errorf("failed to insert policy: %w", err)
	}

	return nil
}

// Get retrieves and parses a policy version
func (s *PostgresStore) Get(ctx context.Context, policyID, version string) (*Policy, error) {
	var document string
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM policies WHERE policy_id = $1 AND version = $2
	`, policyID, version).Scan(&document)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %s %s: %w", policyID, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	p, err := Parse([]byte(document), s.opts)
	if err != nil {
		return nil, fmt.Errorf("stored policy %s %s is invalid: %w", policyID, version, err)
	}
	return p, nil
}

// Latest retrieves the highest version of a policy
func (s *PostgresStore) Latest(ctx context.Context, policyID string) (*Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version FROM policies WHERE policy_id = $1
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy versions: %w", err)
	}
	defer rows.Close()

	var latest string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan policy version: %w", err)
		}
		if latest == "" || CompareVersions(v, latest) > 0 {
			latest = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy versions: %w", err)
	}

	if latest == "" {
		return nil, fmt.Errorf("policy %s: %w", policyID, ErrNotFound)
	}
	return s.Get(ctx, policyID, latest)
}

// List returns all stored policy versions
func (s *PostgresStore) List(ctx context.Context) ([]Ref, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, version, content_hash FROM policies
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	refs := []Ref{}
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.PolicyID, &r.Version, &r.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policies: %w", err)
	}

	SortRefs(refs)
	return refs, nil
}

// Delete removes a policy version
func (s *PostgresStore) Delete(ctx context.Context, policyID, version string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM policies WHERE policy_id = $1 AND version = $2
	`, policyID, version)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("policy %s %s: %w", policyID, version, ErrNotFound)
	}

	return nil
}
