package bolt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// commitmentRecord is the stored form. The secret is excluded from the
// domain type's JSON so it never leaks through API responses.
type commitmentRecord struct {
	domain.Commitment
	Sealed []byte `json:"sealed_secret"`
}

func toRecord(c domain.Commitment) commitmentRecord {
	return commitmentRecord{Commitment: c, Sealed: c.Secret}
}

func (r commitmentRecord) commitment() domain.Commitment {
	c := r.Commitment
	c.Secret = r.Sealed
	return c
}

// CommitmentStore implements domain.CommitmentStore. Every operation runs in
// a single read-write transaction, which bbolt serializes, so status checks
// and writes are atomic.
type CommitmentStore struct {
	db *bbolt.DB
}

// NewCommitmentStore creates a CommitmentStore.
func NewCommitmentStore(db *bbolt.DB) *CommitmentStore {
	return &CommitmentStore{db: db}
}

var _ domain.CommitmentStore = (*CommitmentStore)(nil)

func loadCommitment(tx *bbolt.Tx, id string) (domain.Commitment, error) {
	var rec commitmentRecord
	if err := getJSON(tx.Bucket([]byte(commitmentsBucket)), []byte(id), &rec); err != nil {
		return domain.Commitment{}, err
	}
	return rec.commitment(), nil
}

func saveCommitment(tx *bbolt.Tx, c domain.Commitment) error {
	return putJSON(tx.Bucket([]byte(commitmentsBucket)), []byte(c.ID), toRecord(c))
}

// expirePending moves c to expired and frees its wallet slot.
func expirePending(tx *bbolt.Tx, c domain.Commitment) (domain.Commitment, error) {
	c.Status = domain.CommitmentExpired
	if err := saveCommitment(tx, c); err != nil {
		return c, err
	}
	return c, tx.Bucket([]byte(pendingBucket)).Delete([]byte(c.Wallet))
}

// mutate runs fn against the stored commitment and persists the result.
func (s *CommitmentStore) mutate(ctx context.Context, op, id string, fn func(tx *bbolt.Tx, c domain.Commitment) (domain.Commitment, bool, error)) (domain.Commitment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Commitment{}, err
	}
	var out domain.Commitment
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c, err := loadCommitment(tx, id)
		if err != nil {
			return err
		}
		next, changed, err := fn(tx, c)
		if err != nil {
			return err
		}
		if changed {
			if err := saveCommitment(tx, next); err != nil {
				return err
			}
		}
		out = next
		return nil
	})
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("bolt: %s commitment %s: %w", op, id, err)
	}
	return out, nil
}

// Create inserts a pending commitment, first expiring a stale one for the
// same wallet.
func (s *CommitmentStore) Create(ctx context.Context, c domain.Commitment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		commitments := tx.Bucket([]byte(commitmentsBucket))
		pending := tx.Bucket([]byte(pendingBucket))

		if commitments.Get([]byte(c.ID)) != nil {
			return domain.ErrAlreadyExists
		}
		if existingID := pending.Get([]byte(c.Wallet)); existingID != nil {
			existing, err := loadCommitment(tx, string(existingID))
			if err != nil {
				return err
			}
			if !existing.ExpiredAt(c.CreatedAt) {
				return domain.ErrDuplicatePending
			}
			if _, err := expirePending(tx, existing); err != nil {
				return err
			}
		}

		c.Status = domain.CommitmentPending
		if err := saveCommitment(tx, c); err != nil {
			return err
		}
		return pending.Put([]byte(c.Wallet), []byte(c.ID))
	})
	if err != nil {
		return fmt.Errorf("bolt: create commitment: %w", err)
	}
	return nil
}

func (s *CommitmentStore) GetByID(ctx context.Context, id string) (domain.Commitment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Commitment{}, err
	}
	var c domain.Commitment
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		c, err = loadCommitment(tx, id)
		return err
	})
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("bolt: get commitment %s: %w", id, err)
	}
	return c, nil
}

func (s *CommitmentStore) GetPendingForWallet(ctx context.Context, wallet string) (domain.Commitment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Commitment{}, err
	}
	var c domain.Commitment
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(pendingBucket)).Get([]byte(wallet))
		if id == nil {
			return domain.ErrNotFound
		}
		var err error
		c, err = loadCommitment(tx, string(id))
		return err
	})
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("bolt: get pending for %s: %w", wallet, err)
	}
	return c, nil
}

func (s *CommitmentStore) MarkDeposited(ctx context.Context, id, proof string, now time.Time) (domain.Commitment, error) {
	return s.mutate(ctx, "mark deposited", id, func(tx *bbolt.Tx, c domain.Commitment) (domain.Commitment, bool, error) {
		switch c.Status {
		case domain.CommitmentDeposited:
			if c.SameProof(proof) {
				return c, false, nil
			}
			return c, false, domain.ErrInvalidState
		case domain.CommitmentResolved:
			return c, false, domain.ErrAlreadyResolved
		case domain.CommitmentExpired:
			return c, false, domain.ErrExpired
		}
		if c.ExpiredAt(now) {
			return c, false, domain.ErrExpired
		}
		c.Status = domain.CommitmentDeposited
		c.DepositProof = &proof
		at := now.UTC()
		c.DepositedAt = &at
		if err := tx.Bucket([]byte(pendingBucket)).Delete([]byte(c.Wallet)); err != nil {
			return c, false, err
		}
		return c, true, nil
	})
}

func (s *CommitmentStore) Resolve(ctx context.Context, id string, res domain.Resolution) (domain.Commitment, error) {
	return s.mutate(ctx, "resolve", id, func(_ *bbolt.Tx, c domain.Commitment) (domain.Commitment, bool, error) {
		switch c.Status {
		case domain.CommitmentResolved:
			return c, false, domain.ErrAlreadyResolved
		case domain.CommitmentExpired:
			return c, false, domain.ErrExpired
		case domain.CommitmentPending:
			return c, false, domain.ErrInvalidState
		}
		result, won := res.Result, res.Won
		at := res.ResolvedAt.UTC()
		c.Status = domain.CommitmentResolved
		c.Result = &result
		c.Won = &won
		c.Payout = res.Payout
		c.PayoutStatus = res.PayoutStatus
		c.ResolvedAt = &at
		return c, true, nil
	})
}

func (s *CommitmentStore) SettlePayout(ctx context.Context, id string, status domain.PayoutStatus, proof string) (domain.Commitment, error) {
	return s.mutate(ctx, "settle payout", id, func(_ *bbolt.Tx, c domain.Commitment) (domain.Commitment, bool, error) {
		if c.Status != domain.CommitmentResolved || !c.PayoutStatus.CanSettleTo(status) {
			return c, false, domain.ErrInvalidState
		}
		c.PayoutStatus = status
		if proof != "" {
			c.PayoutProof = &proof
		}
		return c, true, nil
	})
}

func (s *CommitmentStore) Expire(ctx context.Context, id string, now time.Time) (domain.Commitment, error) {
	return s.mutate(ctx, "expire", id, func(tx *bbolt.Tx, c domain.Commitment) (domain.Commitment, bool, error) {
		if c.Status == domain.CommitmentExpired {
			return c, false, nil
		}
		if !c.ExpiredAt(now) {
			return c, false, domain.ErrInvalidState
		}
		c, err := expirePending(tx, c)
		return c, false, err
	})
}

func (s *CommitmentStore) Cancel(ctx context.Context, id string) (domain.Commitment, error) {
	return s.mutate(ctx, "cancel", id, func(tx *bbolt.Tx, c domain.Commitment) (domain.Commitment, bool, error) {
		switch c.Status {
		case domain.CommitmentExpired:
			return c, false, nil
		case domain.CommitmentPending:
			c, err := expirePending(tx, c)
			return c, false, err
		}
		return c, false, domain.ErrNotCancellable
	})
}

func (s *CommitmentStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var stale []domain.Commitment
		err := tx.Bucket([]byte(pendingBucket)).ForEach(func(_, id []byte) error {
			c, err := loadCommitment(tx, string(id))
			if err != nil {
				return err
			}
			if c.ExpiredAt(now) {
				stale = append(stale, c)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Deleting while iterating a bucket is unsafe, so expire afterwards.
		for _, c := range stale {
			if _, err := expirePending(tx, c); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt: expire stale: %w", err)
	}
	return n, nil
}

func (s *CommitmentStore) ExpireAllForWallet(ctx context.Context, wallet string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(pendingBucket)).Get([]byte(wallet))
		if id == nil {
			return nil
		}
		c, err := loadCommitment(tx, string(id))
		if err != nil {
			return err
		}
		if c.Status != domain.CommitmentPending {
			return tx.Bucket([]byte(pendingBucket)).Delete([]byte(wallet))
		}
		if _, err := expirePending(tx, c); err != nil {
			return err
		}
		n = 1
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt: expire all for %s: %w", wallet, err)
	}
	return n, nil
}

// scan visits every commitment. The bucket is small enough on a single node
// that aggregates are computed by full scan rather than a secondary index.
func (s *CommitmentStore) scan(ctx context.Context, fn func(c domain.Commitment)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(commitmentsBucket)).ForEach(func(_, v []byte) error {
			var rec commitmentRecord
			if err := decode(v, &rec); err != nil {
				return err
			}
			fn(rec.commitment())
			return nil
		})
	})
}

func (s *CommitmentStore) DailyAggregate(ctx context.Context, day time.Time) (domain.DailyRiskAggregate, error) {
	start := domain.UTCDay(day)
	end := start.AddDate(0, 0, 1)
	agg := domain.DailyRiskAggregate{Day: start}

	err := s.scan(ctx, func(c domain.Commitment) {
		if c.Status != domain.CommitmentResolved || c.ResolvedAt == nil {
			return
		}
		if c.ResolvedAt.Before(start) || !c.ResolvedAt.Before(end) {
			return
		}
		agg.Count++
		agg.Wagered += c.Stake
		if c.Won == nil || !*c.Won {
			return
		}
		agg.Payouts += c.Payout
		switch c.PayoutStatus {
		case domain.PayoutProcessing, domain.PayoutPaid:
			agg.Paid += c.Payout
		case domain.PayoutDeferred, domain.PayoutFailed:
			agg.Deferred += c.Payout
		}
	})
	if err != nil {
		return domain.DailyRiskAggregate{}, fmt.Errorf("bolt: daily aggregate: %w", err)
	}
	return agg, nil
}

func (s *CommitmentStore) ListOwedPayouts(ctx context.Context, limit int) ([]domain.Commitment, error) {
	var out []domain.Commitment
	err := s.scan(ctx, func(c domain.Commitment) {
		if c.Status == domain.CommitmentResolved && c.PayoutStatus.Owed() {
			out = append(out, c)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list owed payouts: %w", err)
	}
	sortByResolved(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CommitmentStore) ListRetryablePayouts(ctx context.Context, after domain.OwedCursor, limit int) ([]domain.Commitment, error) {
	var out []domain.Commitment
	err := s.scan(ctx, func(c domain.Commitment) {
		if c.Status != domain.CommitmentResolved || c.ResolvedAt == nil {
			return
		}
		if c.PayoutStatus != domain.PayoutDeferred && c.PayoutStatus != domain.PayoutFailed {
			return
		}
		if !after.Before(c) {
			out = append(out, c)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list retryable payouts: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ResolvedAt.Equal(*out[j].ResolvedAt) {
			return out[i].ResolvedAt.Before(*out[j].ResolvedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CommitmentStore) ListResolvedBetween(ctx context.Context, from, to time.Time) ([]domain.Commitment, error) {
	var out []domain.Commitment
	err := s.scan(ctx, func(c domain.Commitment) {
		if c.Status != domain.CommitmentResolved || c.ResolvedAt == nil {
			return
		}
		if !c.ResolvedAt.Before(from) && c.ResolvedAt.Before(to) {
			out = append(out, c)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list resolved: %w", err)
	}
	sortByResolved(out)
	return out, nil
}

func (s *CommitmentStore) SumFees(ctx context.Context, after, upTo time.Time) (int64, error) {
	var total int64
	err := s.scan(ctx, func(c domain.Commitment) {
		if c.DepositedAt == nil {
			return
		}
		if c.DepositedAt.After(after) && !c.DepositedAt.After(upTo) {
			total += c.FeeAmount
		}
	})
	if err != nil {
		return 0, fmt.Errorf("bolt: sum fees: %w", err)
	}
	return total, nil
}

func sortByResolved(cs []domain.Commitment) {
	sort.Slice(cs, func(i, j int) bool {
		return cs[i].ResolvedAt.Before(*cs[j].ResolvedAt)
	})
}
