package maintenance

import (
	"context"
	"errors"
	"time"

	s3blob "github.com/aklo360/cc-sub001/internal/blob/s3"
	"github.com/aklo360/cc-sub001/internal/domain"
)

// Task names.
const (
	TaskExpireCommitments  = "expire_commitments"
	TaskTreasuryTopUp      = "treasury_topup"
	TaskFeeSweep           = "fee_sweep"
	TaskSettlePayouts      = "settle_payouts"
	TaskArchiveCommitments = "archive_commitments"
)

const (
	settleBatch     = 50
	archiveLookback = 7
)

// Expirer expires stale pending commitments.
type Expirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Settler retries owed payouts.
type Settler interface {
	SettlePending(ctx context.Context, limit int) (int, error)
}

// Rebalancer moves value between custody wallets.
type Rebalancer interface {
	TopUp(ctx context.Context, amount *int64) (domain.TransferResult, error)
	SweepToBurnAndDestroy(ctx context.Context) (domain.TransferResult, error)
}

// WagerUpkeep is the wager side of maintenance.
type WagerUpkeep interface {
	Expirer
	Settler
}

// Archiver uploads resolved commitments.
type Archiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time, lookback int) (s3blob.ArchiveReport, error)
}

// Intervals configures how often each task runs. A zero interval disables
// the task.
type Intervals struct {
	Expire   time.Duration
	TopUp    time.Duration
	FeeSweep time.Duration
	Settle   time.Duration
	Archive  time.Duration
}

// Deps are the collaborators the standard tasks act on. A nil Archiver drops
// the archive task.
type Deps struct {
	Wagers        WagerUpkeep
	Treasury      Rebalancer
	Archiver      Archiver
	RetentionDays int
}

// StandardTasks builds the task set.
func StandardTasks(d Deps, iv Intervals) []Task {
	tasks := []Task{
		{Name: TaskExpireCommitments, Interval: iv.Expire, Run: expireTask(d.Wagers)},
		{Name: TaskTreasuryTopUp, Interval: iv.TopUp, Run: topUpTask(d.Treasury)},
		{Name: TaskFeeSweep, Interval: iv.FeeSweep, Run: sweepTask(d.Treasury)},
		{Name: TaskSettlePayouts, Interval: iv.Settle, Run: settleTask(d.Wagers)},
	}
	if d.Archiver != nil {
		tasks = append(tasks, Task{
			Name:     TaskArchiveCommitments,
			Interval: iv.Archive,
			Run:      archiveTask(d.Archiver, d.RetentionDays),
		})
	}
	return tasks
}

func expireTask(e Expirer) func(context.Context) Result {
	return func(ctx context.Context) Result {
		n, err := e.ExpireStale(ctx)
		if err != nil {
			return Retry(err)
		}
		if n == 0 {
			return Skipped("no stale commitments")
		}
		return Success("expired %d commitments", n)
	}
}

// treasuryResult classifies a treasury error. Configuration and reserve
// problems will not fix themselves.
func treasuryResult(res domain.TransferResult, err error, verb string) Result {
	switch {
	case errors.Is(err, domain.ErrInsufficientReserve),
		errors.Is(err, domain.ErrWalletNotConfigured),
		errors.Is(err, domain.ErrForbiddenFlow),
		errors.Is(err, domain.ErrExceedsMaxTransfer):
		return Failure(err)
	case err != nil:
		return Retry(err)
	case res.Skipped:
		return Skipped("%s", res.Reason)
	}
	return Success("%s %d (proof %s)", verb, res.Amount, res.ProofID)
}

func topUpTask(t Rebalancer) func(context.Context) Result {
	return func(ctx context.Context) Result {
		res, err := t.TopUp(ctx, nil)
		return treasuryResult(res, err, "topped up")
	}
}

func sweepTask(t Rebalancer) func(context.Context) Result {
	return func(ctx context.Context) Result {
		res, err := t.SweepToBurnAndDestroy(ctx)
		return treasuryResult(res, err, "swept and destroyed")
	}
}

func settleTask(s Settler) func(context.Context) Result {
	return func(ctx context.Context) Result {
		n, err := s.SettlePending(ctx, settleBatch)
		if err != nil {
			return Retry(err)
		}
		if n == 0 {
			return Skipped("no payouts settled")
		}
		return Success("settled %d payouts", n)
	}
}

func archiveTask(a Archiver, retentionDays int) func(context.Context) Result {
	return func(ctx context.Context) Result {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		report, err := a.ArchiveBefore(ctx, cutoff, archiveLookback)
		if err != nil {
			return Retry(err)
		}
		if len(report.Files) == 0 {
			return Skipped("nothing new to archive")
		}
		return Success("archived %d commitments in %d files", report.Records, len(report.Files))
	}
}
