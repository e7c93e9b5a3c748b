package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aklo360/cc-sub001/internal/domain"
)

const (
	uniqueViolation     = "23505"
	onePendingPerWallet = "commitments_one_pending_per_wallet"
)

// CommitmentStore implements domain.CommitmentStore using PostgreSQL.
type CommitmentStore struct {
	pool *pgxpool.Pool
}

// NewCommitmentStore creates a new CommitmentStore backed by the given pool.
func NewCommitmentStore(pool *pgxpool.Pool) *CommitmentStore {
	return &CommitmentStore{pool: pool}
}

var _ domain.CommitmentStore = (*CommitmentStore)(nil)

const commitmentCols = `id, wallet, stake, choice, secret, hash, status, fee_amount,
	created_at, expires_at, deposit_proof, deposited_at, result, won,
	payout, payout_status, payout_proof, resolved_at`

func scanCommitmentFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Commitment, error) {
	var c domain.Commitment
	var choice, status string
	var result, payoutStatus *string

	err := scanner.Scan(
		&c.ID, &c.Wallet, &c.Stake, &choice, &c.Secret, &c.Hash, &status, &c.FeeAmount,
		&c.CreatedAt, &c.ExpiresAt, &c.DepositProof, &c.DepositedAt, &result, &c.Won,
		&c.Payout, &payoutStatus, &c.PayoutProof, &c.ResolvedAt,
	)
	if err != nil {
		return domain.Commitment{}, err
	}

	c.Choice = domain.Outcome(choice)
	c.Status = domain.CommitmentStatus(status)
	if result != nil {
		r := domain.Outcome(*result)
		c.Result = &r
	}
	if payoutStatus != nil {
		c.PayoutStatus = domain.PayoutStatus(*payoutStatus)
	}
	return c, nil
}

// Create expires any stale pending row for the wallet and inserts the new
// commitment in one transaction. The partial unique index rejects a second
// live pending row even under concurrent creates.
func (s *CommitmentStore) Create(ctx context.Context, c domain.Commitment) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const expireStale = `
			UPDATE commitments SET status = 'expired'
			WHERE wallet = $1 AND status = 'pending' AND expires_at <= $2`
		if _, err := tx.Exec(ctx, expireStale, c.Wallet, c.CreatedAt); err != nil {
			return err
		}

		const insert = `
			INSERT INTO commitments (
				id, wallet, stake, choice, secret, hash, status, fee_amount,
				created_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $9)`
		_, err := tx.Exec(ctx, insert,
			c.ID, c.Wallet, c.Stake, string(c.Choice), c.Secret, c.Hash, c.FeeAmount,
			c.CreatedAt, c.ExpiresAt,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == onePendingPerWallet {
				return fmt.Errorf("postgres: create commitment: %w", domain.ErrDuplicatePending)
			}
			return fmt.Errorf("postgres: create commitment %s: %w", c.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create commitment %s: %w", c.ID, err)
	}
	return nil
}

func (s *CommitmentStore) GetByID(ctx context.Context, id string) (domain.Commitment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE id = $1`, id)
	c, err := scanCommitmentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Commitment{}, fmt.Errorf("postgres: get commitment %s: %w", id, domain.ErrNotFound)
		}
		return domain.Commitment{}, fmt.Errorf("postgres: get commitment %s: %w", id, err)
	}
	return c, nil
}

func (s *CommitmentStore) GetPendingForWallet(ctx context.Context, wallet string) (domain.Commitment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commitmentCols+` FROM commitments WHERE wallet = $1 AND status = 'pending'`, wallet)
	c, err := scanCommitmentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Commitment{}, fmt.Errorf("postgres: get pending for %s: %w", wallet, domain.ErrNotFound)
		}
		return domain.Commitment{}, fmt.Errorf("postgres: get pending for %s: %w", wallet, err)
	}
	return c, nil
}

// update runs a conditional UPDATE ... RETURNING. When no row matches, the
// current row is loaded and classify explains why.
func (s *CommitmentStore) update(
	ctx context.Context, op, id, query string,
	classify func(domain.Commitment) (domain.Commitment, error),
	args ...any,
) (domain.Commitment, error) {
	row := s.pool.QueryRow(ctx, query+` RETURNING `+commitmentCols, args...)
	c, err := scanCommitmentFromRow(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Commitment{}, fmt.Errorf("postgres: %s commitment %s: %w", op, id, err)
	}
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Commitment{}, err
	}
	out, err := classify(current)
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("postgres: %s commitment %s: %w", op, id, err)
	}
	return out, nil
}

func (s *CommitmentStore) MarkDeposited(ctx context.Context, id, proof string, now time.Time) (domain.Commitment, error) {
	const query = `
		UPDATE commitments SET status = 'deposited', deposit_proof = $2, deposited_at = $3
		WHERE id = $1 AND status = 'pending' AND expires_at > $3`
	return s.update(ctx, "mark deposited", id, query, func(c domain.Commitment) (domain.Commitment, error) {
		switch c.Status {
		case domain.CommitmentDeposited:
			if c.SameProof(proof) {
				return c, nil
			}
			return c, domain.ErrInvalidState
		case domain.CommitmentResolved:
			return c, domain.ErrAlreadyResolved
		}
		return c, domain.ErrExpired
	}, id, proof, now.UTC())
}

func (s *CommitmentStore) Resolve(ctx context.Context, id string, res domain.Resolution) (domain.Commitment, error) {
	const query = `
		UPDATE commitments
		SET status = 'resolved', result = $2, won = $3, payout = $4, payout_status = $5, resolved_at = $6
		WHERE id = $1 AND status = 'deposited'`
	return s.update(ctx, "resolve", id, query, func(c domain.Commitment) (domain.Commitment, error) {
		switch c.Status {
		case domain.CommitmentResolved:
			return c, domain.ErrAlreadyResolved
		case domain.CommitmentExpired:
			return c, domain.ErrExpired
		}
		return c, domain.ErrInvalidState
	}, id, string(res.Result), res.Won, res.Payout, string(res.PayoutStatus), res.ResolvedAt.UTC())
}

// payoutSources lists the statuses a payout may move to next from.
func payoutSources(next domain.PayoutStatus) []string {
	var out []string
	for _, s := range []domain.PayoutStatus{
		domain.PayoutNone, domain.PayoutProcessing, domain.PayoutPaid, domain.PayoutDeferred, domain.PayoutFailed,
	} {
		if s.CanSettleTo(next) {
			out = append(out, string(s))
		}
	}
	return out
}

func (s *CommitmentStore) SettlePayout(ctx context.Context, id string, status domain.PayoutStatus, proof string) (domain.Commitment, error) {
	const query = `
		UPDATE commitments
		SET payout_status = $2, payout_proof = COALESCE(NULLIF($3, ''), payout_proof)
		WHERE id = $1 AND status = 'resolved' AND payout_status = ANY($4)`
	return s.update(ctx, "settle payout", id, query, func(c domain.Commitment) (domain.Commitment, error) {
		return c, domain.ErrInvalidState
	}, id, string(status), proof, payoutSources(status))
}

func (s *CommitmentStore) Expire(ctx context.Context, id string, now time.Time) (domain.Commitment, error) {
	const query = `
		UPDATE commitments SET status = 'expired'
		WHERE id = $1 AND status = 'pending' AND expires_at <= $2`
	return s.update(ctx, "expire", id, query, func(c domain.Commitment) (domain.Commitment, error) {
		if c.Status == domain.CommitmentExpired {
			return c, nil
		}
		return c, domain.ErrInvalidState
	}, id, now.UTC())
}

func (s *CommitmentStore) Cancel(ctx context.Context, id string) (domain.Commitment, error) {
	const query = `UPDATE commitments SET status = 'expired' WHERE id = $1 AND status = 'pending'`
	return s.update(ctx, "cancel", id, query, func(c domain.Commitment) (domain.Commitment, error) {
		if c.Status == domain.CommitmentExpired {
			return c, nil
		}
		return c, domain.ErrNotCancellable
	}, id)
}

func (s *CommitmentStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commitments SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: expire stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *CommitmentStore) ExpireAllForWallet(ctx context.Context, wallet string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commitments SET status = 'expired' WHERE wallet = $1 AND status = 'pending'`, wallet)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire all for %s: %w", wallet, err)
	}
	return tag.RowsAffected(), nil
}

func (s *CommitmentStore) DailyAggregate(ctx context.Context, day time.Time) (domain.DailyRiskAggregate, error) {
	start := domain.UTCDay(day)
	agg := domain.DailyRiskAggregate{Day: start}

	const query = `
		SELECT
			COUNT(*),
			COALESCE(SUM(stake), 0),
			COALESCE(SUM(payout) FILTER (WHERE won), 0),
			COALESCE(SUM(payout) FILTER (WHERE won AND payout_status IN ('processing', 'paid')), 0),
			COALESCE(SUM(payout) FILTER (WHERE won AND payout_status IN ('deferred', 'failed')), 0)
		FROM commitments
		WHERE status = 'resolved' AND resolved_at >= $1 AND resolved_at < $2`
	err := s.pool.QueryRow(ctx, query, start, start.AddDate(0, 0, 1)).
		Scan(&agg.Count, &agg.Wagered, &agg.Payouts, &agg.Paid, &agg.Deferred)
	if err != nil {
		return domain.DailyRiskAggregate{}, fmt.Errorf("postgres: daily aggregate: %w", err)
	}
	return agg, nil
}

func (s *CommitmentStore) list(ctx context.Context, op, query string, args ...any) ([]domain.Commitment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Commitment
	for rows.Next() {
		c, err := scanCommitmentFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan commitment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func (s *CommitmentStore) ListOwedPayouts(ctx context.Context, limit int) ([]domain.Commitment, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, "list owed payouts", `
		SELECT `+commitmentCols+` FROM commitments
		WHERE status = 'resolved' AND payout_status IN ('processing', 'deferred', 'failed')
		ORDER BY resolved_at
		LIMIT $1`, limit)
}

func (s *CommitmentStore) ListRetryablePayouts(ctx context.Context, after domain.OwedCursor, limit int) ([]domain.Commitment, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, "list retryable payouts", `
		SELECT `+commitmentCols+` FROM commitments
		WHERE status = 'resolved' AND payout_status IN ('deferred', 'failed')
		  AND (resolved_at, id) > ($1, $2)
		ORDER BY resolved_at, id
		LIMIT $3`, after.ResolvedAt.UTC(), after.ID, limit)
}

func (s *CommitmentStore) ListResolvedBetween(ctx context.Context, from, to time.Time) ([]domain.Commitment, error) {
	return s.list(ctx, "list resolved", `
		SELECT `+commitmentCols+` FROM commitments
		WHERE status = 'resolved' AND resolved_at >= $1 AND resolved_at < $2
		ORDER BY resolved_at`, from.UTC(), to.UTC())
}

func (s *CommitmentStore) SumFees(ctx context.Context, after, upTo time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(fee_amount), 0) FROM commitments WHERE deposited_at > $1 AND deposited_at <= $2`,
		after.UTC(), upTo.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum fees: %w", err)
	}
	return total, nil
}
