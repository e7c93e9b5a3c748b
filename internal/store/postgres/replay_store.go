package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// ReplayStore implements domain.ReplayStore using PostgreSQL.
type ReplayStore struct {
	pool *pgxpool.Pool
}

// NewReplayStore creates a new ReplayStore backed by the given pool.
func NewReplayStore(pool *pgxpool.Pool) *ReplayStore {
	return &ReplayStore{pool: pool}
}

var _ domain.ReplayStore = (*ReplayStore)(nil)

func (s *ReplayStore) IsConsumed(ctx context.Context, proofID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM consumed_proofs WHERE proof_id = $1)`, proofID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: is consumed %s: %w", proofID, err)
	}
	return exists, nil
}

// Consume relies on the primary key: ON CONFLICT DO NOTHING affects zero rows
// for every caller but the first.
func (s *ReplayStore) Consume(ctx context.Context, proofID, commitmentID string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO consumed_proofs (proof_id, commitment_id) VALUES ($1, $2) ON CONFLICT (proof_id) DO NOTHING`,
		proofID, commitmentID,
	)
	if err != nil {
		return fmt.Errorf("postgres: consume %s: %w", proofID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: consume %s: %w", proofID, domain.ErrAlreadyConsumed)
	}
	return nil
}

func (s *ReplayStore) Owner(ctx context.Context, proofID string) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT commitment_id FROM consumed_proofs WHERE proof_id = $1`, proofID,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("postgres: replay owner %s: %w", proofID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("postgres: replay owner %s: %w", proofID, err)
	}
	return owner, nil
}
