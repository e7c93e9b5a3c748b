package domain

import (
	"context"
	"strings"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// Event matches an event name exactly, or a prefix when it ends in "*".
	Event string
	// CommitmentID keeps only entries whose detail names this commitment.
	CommitmentID string
}

// Match reports whether an entry passes the Event and CommitmentID filters.
func (o ListOpts) Match(e AuditEntry) bool {
	if o.Event != "" {
		if prefix, ok := strings.CutSuffix(o.Event, "*"); ok {
			if !strings.HasPrefix(e.Event, prefix) {
				return false
			}
		} else if e.Event != o.Event {
			return false
		}
	}
	if o.CommitmentID != "" && e.CommitmentID() != o.CommitmentID {
		return false
	}
	return true
}

// OwedCursor positions a scan over owed payouts. The zero value starts at
// the oldest.
type OwedCursor struct {
	ResolvedAt time.Time
	ID         string
}

// CursorAfter returns the cursor just past c.
func CursorAfter(c Commitment) OwedCursor {
	cur := OwedCursor{ID: c.ID}
	if c.ResolvedAt != nil {
		cur.ResolvedAt = *c.ResolvedAt
	}
	return cur
}

// Before reports whether c sorts at or before the cursor.
func (o OwedCursor) Before(c Commitment) bool {
	var at time.Time
	if c.ResolvedAt != nil {
		at = *c.ResolvedAt
	}
	if !at.Equal(o.ResolvedAt) {
		return at.Before(o.ResolvedAt)
	}
	return c.ID <= o.ID
}

// CommitmentStore is the commitment ledger. Every mutating call is a
// conditional write guarded by the current status, so concurrent callers on
// the same id cannot both succeed.
type CommitmentStore interface {
	// Create inserts a new pending commitment. Stale pending rows for the same
	// wallet are expired first; a live one yields ErrDuplicatePending.
	Create(ctx context.Context, c Commitment) error
	GetByID(ctx context.Context, id string) (Commitment, error)
	GetPendingForWallet(ctx context.Context, wallet string) (Commitment, error)
	// MarkDeposited moves pending -> deposited. Calling it again with the
	// same proof is a no-op returning the current row.
	MarkDeposited(ctx context.Context, id, proof string, now time.Time) (Commitment, error)
	// Resolve moves deposited -> resolved. A second call fails with
	// ErrAlreadyResolved.
	Resolve(ctx context.Context, id string, res Resolution) (Commitment, error)
	// SettlePayout records a payout outcome for an owed payout.
	SettlePayout(ctx context.Context, id string, status PayoutStatus, proof string) (Commitment, error)
	// Expire moves a pending commitment past its expiry to expired.
	Expire(ctx context.Context, id string, now time.Time) (Commitment, error)
	// Cancel moves a pending commitment to expired regardless of its expiry.
	Cancel(ctx context.Context, id string) (Commitment, error)
	// ExpireStale expires every pending commitment whose expiry has passed.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	// ExpireAllForWallet cancels every pending commitment of wallet.
	ExpireAllForWallet(ctx context.Context, wallet string) (int64, error)
	DailyAggregate(ctx context.Context, day time.Time) (DailyRiskAggregate, error)
	// ListOwedPayouts lists every owed payout, in flight ones included,
	// oldest first.
	ListOwedPayouts(ctx context.Context, limit int) ([]Commitment, error)
	// ListRetryablePayouts pages through deferred and failed payouts in
	// (resolved_at, id) order, strictly after cursor.
	ListRetryablePayouts(ctx context.Context, after OwedCursor, limit int) ([]Commitment, error)
	ListResolvedBetween(ctx context.Context, from, to time.Time) ([]Commitment, error)
	// SumFees totals fee_amount of commitments deposited in (after, upTo].
	SumFees(ctx context.Context, after, upTo time.Time) (int64, error)
}

// ReplayStore is the durable set of consumed deposit proofs.
type ReplayStore interface {
	IsConsumed(ctx context.Context, proofID string) (bool, error)
	// Consume records proofID against commitmentID. It is an atomic
	// test-and-set: a second call fails with ErrAlreadyConsumed.
	Consume(ctx context.Context, proofID, commitmentID string) error
	// Owner returns the commitment a proof was consumed for.
	Owner(ctx context.Context, proofID string) (string, error)
}

// WalletStore persists one wallet record per custody role.
type WalletStore interface {
	// Create fails with ErrAlreadyExists when the role is already registered.
	Create(ctx context.Context, w Wallet) error
	Get(ctx context.Context, role WalletRole) (Wallet, error)
	List(ctx context.Context) ([]Wallet, error)
	UpdateBalance(ctx context.Context, role WalletRole, balance int64, at time.Time) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// CommitmentID returns the commitment the entry refers to, if any.
func (e AuditEntry) CommitmentID() string {
	id, _ := e.Detail["commitment_id"].(string)
	return id
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// TaskRunStore persists maintenance task results.
type TaskRunStore interface {
	Record(ctx context.Context, run TaskRun) error
	ListRecent(ctx context.Context, task string, limit int) ([]TaskRun, error)
}

// FeeSweepStore persists fee sweeps. A sweep is recorded when its window is
// claimed and updated as its transfers land.
type FeeSweepStore interface {
	// Record inserts sweep or replaces the one with the same id.
	Record(ctx context.Context, sweep FeeSweep) error
	// Last returns the most recent sweep or ErrNotFound.
	Last(ctx context.Context) (FeeSweep, error)
}

// Stores bundles every persistence interface a backend provides.
type Stores struct {
	Commitments CommitmentStore
	Replay      ReplayStore
	Wallets     WalletStore
	Audit       AuditStore
	TaskRuns    TaskRunStore
	Sweeps      FeeSweepStore
}
