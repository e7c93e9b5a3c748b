package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/fairness"
	"github.com/aklo360/cc-sub001/internal/risk"
)

const (
	maxProofLen = 256
	// settlePage is how many retryable payouts SettlePending reads per query.
	settlePage = 100
)

// WagerConfig holds the wager parameters.
type WagerConfig struct {
	MinStake int64
	MaxStake int64
	// FeeAmount is paid to the deposit address in the same transaction as
	// the stake.
	FeeAmount     int64
	CommitmentTTL time.Duration
	Cooldown      time.Duration
	VerifyTimeout time.Duration
}

// WagerService sequences commit -> deposit -> resolve.
type WagerService struct {
	commitments domain.CommitmentStore
	replay      domain.ReplayStore
	verifier    domain.DepositVerifier
	treasury    *TreasuryService
	risk        *risk.Engine
	limiter     domain.RateLimiter
	events      *Events
	cfg         WagerConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewWagerService creates a WagerService. limiter may be nil, which disables
// the per-wallet cooldown.
func NewWagerService(
	commitments domain.CommitmentStore,
	replay domain.ReplayStore,
	verifier domain.DepositVerifier,
	treasury *TreasuryService,
	engine *risk.Engine,
	limiter domain.RateLimiter,
	events *Events,
	cfg WagerConfig,
	logger *slog.Logger,
) *WagerService {
	if cfg.CommitmentTTL <= 0 {
		cfg.CommitmentTTL = 120 * time.Second
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 20 * time.Second
	}
	return &WagerService{
		commitments: commitments,
		replay:      replay,
		verifier:    verifier,
		treasury:    treasury,
		risk:        engine,
		limiter:     limiter,
		events:      events,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "wager")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// normalizeWallet validates a player address and returns its canonical form.
func normalizeWallet(wallet string) (string, error) {
	wallet = strings.TrimSpace(wallet)
	if !common.IsHexAddress(wallet) {
		return "", domain.ErrInvalidWallet
	}
	return common.HexToAddress(wallet).Hex(), nil
}

// Commit validates a wager, applies the loss circuit breaker and opens a
// pending commitment. No value moves.
func (s *WagerService) Commit(ctx context.Context, wallet string, stake int64, choice domain.Outcome) (CommitReceipt, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return CommitReceipt{}, err
	}
	if stake <= 0 || stake < s.cfg.MinStake || (s.cfg.MaxStake > 0 && stake > s.cfg.MaxStake) {
		return CommitReceipt{}, fmt.Errorf("%w: %d not in [%d, %d]", domain.ErrInvalidStake, stake, s.cfg.MinStake, s.cfg.MaxStake)
	}
	if !choice.Valid() {
		return CommitReceipt{}, fmt.Errorf("%w: %q", domain.ErrInvalidChoice, choice)
	}

	now := s.now()
	agg, err := s.commitments.DailyAggregate(ctx, now)
	if err != nil {
		return CommitReceipt{}, fmt.Errorf("wager: daily aggregate: %w", err)
	}
	if d := s.risk.AdmitWager(now, agg, s.risk.MaxPossibleLoss(stake)); !d.Admit {
		s.logger.WarnContext(ctx, "wager denied",
			slog.String("wallet", wallet),
			slog.Int64("stake", stake),
			slog.String("reason", d.Reason),
		)
		return CommitReceipt{}, risk.Deny(d, agg)
	}

	depositAddress, err := s.treasury.DepositAddress(ctx)
	if err != nil {
		return CommitReceipt{}, err
	}

	// A rejected duplicate must not start the cooldown. Create still guards
	// the race between two commits for the same wallet.
	switch pending, err := s.commitments.GetPendingForWallet(ctx, wallet); {
	case err == nil && !pending.ExpiredAt(now):
		return CommitReceipt{}, domain.ErrDuplicatePending
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return CommitReceipt{}, fmt.Errorf("wager: pending lookup: %w", err)
	}

	if s.limiter != nil && s.cfg.Cooldown > 0 {
		allowed, err := s.limiter.Allow(ctx, "commit:"+wallet, 1, s.cfg.Cooldown)
		if err != nil {
			s.logger.WarnContext(ctx, "cooldown check unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			return CommitReceipt{}, domain.ErrCooldown
		}
	}

	secret, err := fairness.NewSecret()
	if err != nil {
		return CommitReceipt{}, fmt.Errorf("wager: %w", err)
	}
	c := domain.Commitment{
		ID:           uuid.NewString(),
		Wallet:       wallet,
		Stake:        stake,
		Choice:       choice,
		Secret:       secret,
		Hash:         fairness.Commit(secret),
		Status:       domain.CommitmentPending,
		FeeAmount:    s.cfg.FeeAmount,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.CommitmentTTL),
		PayoutStatus: domain.PayoutNone,
	}
	if err := s.commitments.Create(ctx, c); err != nil {
		return CommitReceipt{}, fmt.Errorf("wager: commit: %w", err)
	}

	s.logger.InfoContext(ctx, "wager committed",
		slog.String("commitment_id", c.ID),
		slog.String("wallet", wallet),
		slog.Int64("stake", stake),
		slog.String("choice", string(choice)),
	)
	s.events.Emit(ctx, domain.EventWagerCommitted, map[string]any{
		"commitment_id":   c.ID,
		"wallet":          wallet,
		"stake":           stake,
		"choice":          string(choice),
		"commitment_hash": c.Hash,
	})

	return CommitReceipt{
		CommitmentID:   c.ID,
		CommitmentHash: c.Hash,
		Choice:         choice,
		DepositAddress: depositAddress,
		DepositAmount:  stake + s.cfg.FeeAmount,
		FeeAmount:      s.cfg.FeeAmount,
		Payout:         s.risk.Payout(stake),
		ExpiresAt:      c.ExpiresAt,
	}, nil
}

// Resolve runs the deposit -> resolve half of the protocol. A resolved
// commitment returns its result together with ErrAlreadyResolved.
func (s *WagerService) Resolve(ctx context.Context, id, proof string) (ResolveResult, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" || len(proof) > maxProofLen {
		return nil, domain.ErrInvalidProof
	}
	// Every spelling of a transaction maps to one replay key.
	proof, err := s.verifier.Canonical(proof)
	if err != nil {
		return nil, fmt.Errorf("wager: resolve: %w", err)
	}

	c, err := s.commitments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("wager: resolve: %w", err)
	}
	now := s.now()
	switch c.Status {
	case domain.CommitmentResolved:
		return resultFor(c, ""), domain.ErrAlreadyResolved
	case domain.CommitmentExpired:
		return nil, domain.ErrExpired
	case domain.CommitmentDeposited:
		// Funds are confirmed; the flow always runs to completion.
		return s.finish(ctx, c)
	}
	if c.ExpiredAt(now) {
		if _, err := s.commitments.Expire(ctx, c.ID, now); err != nil {
			s.logger.WarnContext(ctx, "expire on resolve failed",
				slog.String("commitment_id", c.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, domain.ErrExpired
	}

	owned, err := s.proofOwner(ctx, proof, c.ID)
	if err != nil {
		return nil, err
	}
	if !owned {
		if failed := s.verify(ctx, c, proof); failed != nil {
			return *failed, nil
		}
		if err := s.replay.Consume(ctx, proof, c.ID); err != nil {
			if !errors.Is(err, domain.ErrAlreadyConsumed) {
				return nil, fmt.Errorf("wager: consume proof: %w", err)
			}
			// Lost a race; only the same commitment may continue.
			if owned, err = s.proofOwner(ctx, proof, c.ID); err != nil {
				return nil, err
			}
			if !owned {
				return nil, domain.ErrReplayDetected
			}
		}
	}

	deposited, err := s.commitments.MarkDeposited(ctx, c.ID, proof, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrExpired) {
			return nil, s.orphaned(ctx, c, proof)
		}
		if errors.Is(err, domain.ErrAlreadyResolved) {
			if cur, gerr := s.commitments.GetByID(ctx, id); gerr == nil {
				return resultFor(cur, ""), domain.ErrAlreadyResolved
			}
		}
		return nil, fmt.Errorf("wager: mark deposited: %w", err)
	}
	return s.finish(ctx, deposited)
}

// orphaned records a verified, consumed deposit whose commitment closed
// while it was being verified. The proof stays consumed; the stake is
// refunded by an operator from the audit trail.
func (s *WagerService) orphaned(ctx context.Context, c domain.Commitment, proof string) error {
	ctx = context.WithoutCancel(ctx)
	s.logger.ErrorContext(ctx, "deposit confirmed after commitment closed",
		slog.String("commitment_id", c.ID),
		slog.String("wallet", c.Wallet),
		slog.String("proof", proof),
		slog.Int64("stake", c.Stake),
	)
	s.events.Emit(ctx, domain.EventDepositOrphan, map[string]any{
		"commitment_id": c.ID,
		"wallet":        c.Wallet,
		"proof":         proof,
		"stake":         c.Stake,
		"fee":           c.FeeAmount,
	})
	return fmt.Errorf("wager: commitment %s: %w", c.ID, domain.ErrDepositOrphaned)
}

// proofOwner reports whether proof is already consumed by commitmentID. A
// proof consumed by any other commitment is a replay.
func (s *WagerService) proofOwner(ctx context.Context, proof, commitmentID string) (bool, error) {
	owner, err := s.replay.Owner(ctx, proof)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("wager: replay lookup: %w", err)
	case owner != commitmentID:
		s.logger.WarnContext(ctx, "replayed deposit proof",
			slog.String("commitment_id", commitmentID),
			slog.String("owner", owner),
			slog.String("proof", proof),
		)
		return false, domain.ErrReplayDetected
	}
	return true, nil
}

// verify asks the ledger whether stake plus fee reached the deposit address.
// It returns nil on success. Collaborator errors count as verification
// failures.
func (s *WagerService) verify(ctx context.Context, c domain.Commitment, proof string) *VerificationFailed {
	fail := func(reason string) *VerificationFailed {
		s.logger.InfoContext(ctx, "deposit not verified",
			slog.String("commitment_id", c.ID),
			slog.String("proof", proof),
			slog.String("reason", reason),
		)
		return &VerificationFailed{CommitmentID: c.ID, DepositProofID: proof, Reason: reason}
	}

	depositAddress, err := s.treasury.DepositAddress(ctx)
	if err != nil {
		return fail(err.Error())
	}
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()

	v, err := s.verifier.VerifyTransfer(vctx, proof, c.Wallet, c.Stake+c.FeeAmount, depositAddress)
	if err != nil {
		return fail(err.Error())
	}
	if !v.Valid {
		return fail(v.Reason)
	}
	return nil
}

// finish resolves a deposited commitment and attempts the payout. The
// outcome is claimed with a conditional write before any value moves, so
// only one caller ever pays.
func (s *WagerService) finish(ctx context.Context, c domain.Commitment) (ResolveResult, error) {
	// Past this point a client disconnect must not strand the flow.
	ctx = context.WithoutCancel(ctx)

	now := s.now()
	result := fairness.Resolve(c.Secret, []byte(*c.DepositProof))
	res := domain.Resolution{
		Result:       result,
		Won:          result == c.Choice,
		PayoutStatus: domain.PayoutNone,
		ResolvedAt:   now,
	}

	var reason string
	if res.Won {
		res.Payout = s.risk.Payout(c.Stake)
		d, err := s.admitPayout(ctx, now, res.Payout)
		if err != nil {
			d = risk.Decision{Reason: err.Error()}
		}
		if d.Admit {
			res.PayoutStatus = domain.PayoutProcessing
		} else {
			res.PayoutStatus = domain.PayoutDeferred
			reason = d.Reason
		}
	}

	resolved, err := s.commitments.Resolve(ctx, c.ID, res)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			if cur, gerr := s.commitments.GetByID(ctx, c.ID); gerr == nil {
				return resultFor(cur, ""), domain.ErrAlreadyResolved
			}
			return nil, domain.ErrAlreadyResolved
		}
		return nil, fmt.Errorf("wager: resolve: %w", err)
	}

	s.logger.InfoContext(ctx, "wager resolved",
		slog.String("commitment_id", c.ID),
		slog.String("result", string(result)),
		slog.Bool("won", res.Won),
		slog.Int64("payout", res.Payout),
		slog.String("payout_status", string(res.PayoutStatus)),
	)
	s.events.Emit(ctx, domain.EventWagerResolved, map[string]any{
		"commitment_id": c.ID,
		"wallet":        c.Wallet,
		"stake":         c.Stake,
		"result":        string(result),
		"won":           res.Won,
		"payout":        res.Payout,
	})

	switch res.PayoutStatus {
	case domain.PayoutProcessing:
		resolved = s.pay(ctx, resolved)
	case domain.PayoutDeferred:
		s.events.Emit(ctx, domain.EventPayoutDeferred, map[string]any{
			"commitment_id": c.ID,
			"wallet":        c.Wallet,
			"payout":        res.Payout,
			"reason":        reason,
		})
	}
	return resultFor(resolved, reason), nil
}

// admitPayout evaluates payout policy against a fresh aggregate and the live
// hot balance.
func (s *WagerService) admitPayout(ctx context.Context, now time.Time, payout int64) (risk.Decision, error) {
	agg, err := s.commitments.DailyAggregate(ctx, now)
	if err != nil {
		return risk.Decision{}, fmt.Errorf("daily aggregate unavailable: %w", err)
	}
	hot, err := s.treasury.HotBalance(ctx)
	if err != nil {
		return risk.Decision{}, fmt.Errorf("hot balance unavailable: %w", err)
	}
	return s.risk.AdmitPayout(now, agg, payout, hot), nil
}

// pay transfers an authorized payout and records the outcome. A failed
// transfer leaves the payout owed for settlement.
func (s *WagerService) pay(ctx context.Context, c domain.Commitment) domain.Commitment {
	tr, err := s.treasury.Payout(ctx, c.Wallet, c.Payout)
	if err != nil {
		s.logger.ErrorContext(ctx, "payout failed",
			slog.String("commitment_id", c.ID),
			slog.Int64("payout", c.Payout),
			slog.String("error", err.Error()),
		)
		failed, serr := s.commitments.SettlePayout(ctx, c.ID, domain.PayoutFailed, tr.ProofID)
		if serr != nil {
			s.logger.ErrorContext(ctx, "record failed payout",
				slog.String("commitment_id", c.ID),
				slog.String("error", serr.Error()),
			)
			c.PayoutStatus = domain.PayoutFailed
			failed = c
		}
		s.events.Emit(ctx, domain.EventPayoutFailed, map[string]any{
			"commitment_id": c.ID,
			"wallet":        c.Wallet,
			"payout":        c.Payout,
			"error":         err.Error(),
		})
		return failed
	}

	paid, err := s.commitments.SettlePayout(ctx, c.ID, domain.PayoutPaid, tr.ProofID)
	if err != nil {
		// The transfer went out; the record is repaired by manual settlement.
		s.logger.ErrorContext(ctx, "payout sent but not recorded",
			slog.String("commitment_id", c.ID),
			slog.String("proof", tr.ProofID),
			slog.String("error", err.Error()),
		)
		c.PayoutStatus = domain.PayoutPaid
		c.PayoutProof = &tr.ProofID
		return c
	}
	s.events.Emit(ctx, domain.EventPayoutSettled, map[string]any{
		"commitment_id": c.ID,
		"wallet":        c.Wallet,
		"payout":        c.Payout,
		"proof":         tr.ProofID,
	})
	return paid
}

// SettlePending retries deferred and failed payouts that payout policy now
// authorizes, oldest first. Every retryable row is considered; limit caps
// how many transfers one run makes. Payouts in processing are in flight or
// need manual settlement and are never retried here.
func (s *WagerService) SettlePending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = settlePage
	}
	ceiling := s.risk.Limits().PerPayoutCeiling
	now := s.now()
	var (
		paid, attempts int
		errs           []error
		cursor         domain.OwedCursor
	)
	for attempts < limit {
		page, err := s.commitments.ListRetryablePayouts(ctx, cursor, settlePage)
		if err != nil {
			return paid, errors.Join(append(errs, fmt.Errorf("wager: list retryable payouts: %w", err))...)
		}
		for _, c := range page {
			cursor = domain.CursorAfter(c)
			if attempts >= limit {
				break
			}
			// Over the ceiling until limits change; skip without a balance read.
			if ceiling > 0 && c.Payout > ceiling {
				continue
			}
			d, err := s.admitPayout(ctx, now, c.Payout)
			if err != nil {
				return paid, errors.Join(append(errs, err)...)
			}
			if !d.Admit {
				s.logger.DebugContext(ctx, "payout still deferred",
					slog.String("commitment_id", c.ID),
					slog.String("reason", d.Reason),
				)
				continue
			}
			claimed, err := s.commitments.SettlePayout(ctx, c.ID, domain.PayoutProcessing, "")
			if err != nil {
				// Another worker claimed it.
				continue
			}
			attempts++
			if s.pay(ctx, claimed).PayoutStatus == domain.PayoutPaid {
				paid++
			} else {
				errs = append(errs, fmt.Errorf("wager: payout %s failed", c.ID))
			}
		}
		if len(page) < settlePage {
			break
		}
	}
	return paid, errors.Join(errs...)
}

// SettleManually records an out-of-band payout with its proof.
func (s *WagerService) SettleManually(ctx context.Context, id, proof string) (domain.Commitment, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" || len(proof) > maxProofLen {
		return domain.Commitment{}, domain.ErrInvalidProof
	}
	c, err := s.commitments.SettlePayout(ctx, id, domain.PayoutPaid, proof)
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("wager: settle %s: %w", id, err)
	}
	s.events.Emit(ctx, domain.EventPayoutSettled, map[string]any{
		"commitment_id": c.ID,
		"wallet":        c.Wallet,
		"payout":        c.Payout,
		"proof":         proof,
		"manual":        true,
	})
	return c, nil
}

// Status returns the public view of a commitment.
func (s *WagerService) Status(ctx context.Context, id string) (WagerView, error) {
	c, err := s.commitments.GetByID(ctx, id)
	if err != nil {
		return WagerView{}, fmt.Errorf("wager: status: %w", err)
	}
	return viewOf(c), nil
}

// Cancel expires a pending commitment. Cancelling an expired one is a no-op.
func (s *WagerService) Cancel(ctx context.Context, id string) (WagerView, error) {
	c, err := s.commitments.Cancel(ctx, id)
	if err != nil {
		return WagerView{}, fmt.Errorf("wager: cancel: %w", err)
	}
	s.events.Emit(ctx, domain.EventWagerCancelled, map[string]any{
		"commitment_id": c.ID,
		"wallet":        c.Wallet,
	})
	return viewOf(c), nil
}

// CancelWallet expires whatever pending commitment wallet holds.
func (s *WagerService) CancelWallet(ctx context.Context, wallet string) (int64, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return 0, err
	}
	n, err := s.commitments.ExpireAllForWallet(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("wager: cancel wallet: %w", err)
	}
	if n > 0 {
		s.events.Emit(ctx, domain.EventWagerCancelled, map[string]any{"wallet": wallet})
	}
	return n, nil
}

// ExpireStale expires every pending commitment past its window.
func (s *WagerService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.commitments.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("wager: expire stale: %w", err)
	}
	return n, nil
}

// DailyStats reports today's aggregate against the loss limit.
func (s *WagerService) DailyStats(ctx context.Context) (risk.Stats, error) {
	now := s.now()
	agg, err := s.commitments.DailyAggregate(ctx, now)
	if err != nil {
		return risk.Stats{}, fmt.Errorf("wager: daily aggregate: %w", err)
	}
	return s.risk.Stats(now, agg, s.cfg.MinStake), nil
}

// PendingPayouts lists owed payouts, oldest first.
func (s *WagerService) PendingPayouts(ctx context.Context, limit int) ([]domain.Commitment, error) {
	cs, err := s.commitments.ListOwedPayouts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("wager: pending payouts: %w", err)
	}
	return cs, nil
}
