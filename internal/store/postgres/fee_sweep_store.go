package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// FeeSweepStore implements domain.FeeSweepStore using PostgreSQL.
type FeeSweepStore struct {
	pool *pgxpool.Pool
}

// NewFeeSweepStore creates a new FeeSweepStore backed by the given pool.
func NewFeeSweepStore(pool *pgxpool.Pool) *FeeSweepStore {
	return &FeeSweepStore{pool: pool}
}

var _ domain.FeeSweepStore = (*FeeSweepStore)(nil)

func (s *FeeSweepStore) Record(ctx context.Context, sweep domain.FeeSweep) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fee_sweeps (id, amount, through, proof_id, destroy_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			through = EXCLUDED.through,
			proof_id = EXCLUDED.proof_id,
			destroy_id = EXCLUDED.destroy_id`,
		sweep.ID, sweep.Amount, sweep.Through, sweep.ProofID, sweep.DestroyID, sweep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record fee sweep: %w", err)
	}
	return nil
}

func (s *FeeSweepStore) Last(ctx context.Context) (domain.FeeSweep, error) {
	var sweep domain.FeeSweep
	err := s.pool.QueryRow(ctx, `
		SELECT id, amount, through, proof_id, destroy_id, created_at
		FROM fee_sweeps ORDER BY created_at DESC LIMIT 1`,
	).Scan(&sweep.ID, &sweep.Amount, &sweep.Through, &sweep.ProofID, &sweep.DestroyID, &sweep.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FeeSweep{}, fmt.Errorf("postgres: last fee sweep: %w", domain.ErrNotFound)
		}
		return domain.FeeSweep{}, fmt.Errorf("postgres: last fee sweep: %w", err)
	}
	return sweep, nil
}
