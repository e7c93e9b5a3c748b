package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// TreasuryConfig holds the hot wallet rebalancing policy.
type TreasuryConfig struct {
	HotLowThreshold   int64
	HotTarget         int64
	MaxSingleTransfer int64 // 0 disables the cap
	MinSweepAmount    int64
}

// Flow destinations beyond the three custody roles.
const (
	destExternal = "external"
	destDestroy  = "destroy"
)

// allowedFlows is the complete transfer direction table. Anything not listed
// is refused with ErrForbiddenFlow.
var allowedFlows = map[domain.WalletRole]map[string]bool{
	domain.WalletCold: {string(domain.WalletHot): true},
	domain.WalletHot:  {string(domain.WalletBurn): true, destExternal: true},
	domain.WalletBurn: {destDestroy: true},
}

func checkFlow(from domain.WalletRole, to string) error {
	if !allowedFlows[from][to] {
		return fmt.Errorf("%w: %s -> %s", domain.ErrForbiddenFlow, from, to)
	}
	return nil
}

// TreasuryStatus is the operator view of the custody wallets.
type TreasuryStatus struct {
	Wallets []domain.Wallet   `json:"wallets"`
	TopUp   domain.TopUpCheck `json:"top_up"`
	Limits  TreasuryConfig    `json:"limits"`
}

// TreasuryService owns the wallet records and every value movement out of
// them.
type TreasuryService struct {
	wallets     domain.WalletStore
	commitments domain.CommitmentStore
	sweeps      domain.FeeSweepStore
	ledger      domain.Ledger
	events      *Events
	cfg         TreasuryConfig
	logger      *slog.Logger
	now         func() time.Time

	// One in-flight transaction per sending wallet keeps nonces ordered.
	sendMu map[domain.WalletRole]*sync.Mutex
}

// NewTreasuryService creates a TreasuryService.
func NewTreasuryService(
	wallets domain.WalletStore,
	commitments domain.CommitmentStore,
	sweeps domain.FeeSweepStore,
	ledger domain.Ledger,
	events *Events,
	cfg TreasuryConfig,
	logger *slog.Logger,
) *TreasuryService {
	sendMu := make(map[domain.WalletRole]*sync.Mutex, len(domain.WalletRoles))
	for _, r := range domain.WalletRoles {
		sendMu[r] = &sync.Mutex{}
	}
	return &TreasuryService{
		wallets:     wallets,
		commitments: commitments,
		sweeps:      sweeps,
		ledger:      ledger,
		events:      events,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "treasury")),
		now:         func() time.Time { return time.Now().UTC() },
		sendMu:      sendMu,
	}
}

// Config returns the rebalancing policy.
func (s *TreasuryService) Config() TreasuryConfig { return s.cfg }

// CreateWallet registers the wallet for role. A role can be registered once.
func (s *TreasuryService) CreateWallet(ctx context.Context, role domain.WalletRole, address, keyRef string) (domain.Wallet, error) {
	if !role.Valid() {
		return domain.Wallet{}, fmt.Errorf("treasury: unknown wallet role %q", role)
	}
	if !common.IsHexAddress(address) {
		return domain.Wallet{}, fmt.Errorf("treasury: create %s wallet: %w", role, domain.ErrInvalidWallet)
	}
	w := domain.Wallet{
		Role:      role,
		Address:   common.HexToAddress(address).Hex(),
		KeyRef:    keyRef,
		CreatedAt: s.now(),
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		return domain.Wallet{}, fmt.Errorf("treasury: create %s wallet: %w", role, err)
	}
	s.logger.InfoContext(ctx, "wallet registered",
		slog.String("role", string(role)),
		slog.String("address", w.Address),
	)
	return w, nil
}

func (s *TreasuryService) wallet(ctx context.Context, role domain.WalletRole) (domain.Wallet, error) {
	w, err := s.wallets.Get(ctx, role)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("treasury: %s wallet: %w", role, domain.ErrWalletNotConfigured)
	}
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("treasury: %s wallet: %w", role, err)
	}
	return w, nil
}

// DepositAddress is where players send stakes.
func (s *TreasuryService) DepositAddress(ctx context.Context) (string, error) {
	w, err := s.wallet(ctx, domain.WalletHot)
	if err != nil {
		return "", err
	}
	return w.Address, nil
}

// balance reads the live balance of role and refreshes its snapshot.
func (s *TreasuryService) balance(ctx context.Context, w domain.Wallet) (int64, error) {
	bal, err := s.ledger.Balance(ctx, w.Address)
	if err != nil {
		return 0, fmt.Errorf("treasury: %s balance: %w", w.Role, err)
	}
	if err := s.wallets.UpdateBalance(ctx, w.Role, bal, s.now()); err != nil {
		s.logger.WarnContext(ctx, "balance snapshot not saved",
			slog.String("role", string(w.Role)),
			slog.String("error", err.Error()),
		)
	}
	return bal, nil
}

// HotBalance returns the live hot wallet balance.
func (s *TreasuryService) HotBalance(ctx context.Context) (int64, error) {
	w, err := s.wallet(ctx, domain.WalletHot)
	if err != nil {
		return 0, err
	}
	return s.balance(ctx, w)
}

// RefreshBalances re-reads every registered wallet from the ledger. A wallet
// whose read fails keeps its previous snapshot.
func (s *TreasuryService) RefreshBalances(ctx context.Context) ([]domain.Wallet, error) {
	ws, err := s.wallets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("treasury: list wallets: %w", err)
	}
	var errs []error
	for i, w := range ws {
		bal, err := s.balance(ctx, w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ws[i].Balance = bal
		ws[i].BalanceAt = s.now()
	}
	return ws, errors.Join(errs...)
}

// CheckTopUpNeeded compares the hot balance with the low threshold.
func (s *TreasuryService) CheckTopUpNeeded(ctx context.Context) (domain.TopUpCheck, error) {
	current, err := s.HotBalance(ctx)
	if err != nil {
		return domain.TopUpCheck{}, err
	}
	return s.topUpCheck(current), nil
}

// topUpCheck refills to the target once the hot balance drops below the
// threshold, capped by the single transfer limit.
func (s *TreasuryService) topUpCheck(current int64) domain.TopUpCheck {
	check := domain.TopUpCheck{Current: current, Target: s.cfg.HotTarget}
	if current >= s.cfg.HotLowThreshold || current >= s.cfg.HotTarget {
		return check
	}
	check.Needed = true
	check.Amount = s.cfg.HotTarget - current
	if s.cfg.MaxSingleTransfer > 0 && check.Amount > s.cfg.MaxSingleTransfer {
		check.Amount = s.cfg.MaxSingleTransfer
	}
	return check
}

// TopUp moves value cold -> hot. With a nil amount the amount comes from
// CheckTopUpNeeded and nothing moves when no top-up is needed.
func (s *TreasuryService) TopUp(ctx context.Context, amount *int64) (domain.TransferResult, error) {
	var want int64
	if amount == nil {
		check, err := s.CheckTopUpNeeded(ctx)
		if err != nil {
			return domain.TransferResult{}, err
		}
		if !check.Needed {
			return domain.TransferResult{
				From: domain.WalletCold, To: string(domain.WalletHot),
				Skipped: true, Reason: fmt.Sprintf("hot balance %d at or above threshold %d", check.Current, s.cfg.HotLowThreshold),
			}, nil
		}
		want = check.Amount
	} else {
		want = *amount
	}
	if want <= 0 {
		return domain.TransferResult{}, fmt.Errorf("treasury: top-up amount must be positive, got %d", want)
	}
	if s.cfg.MaxSingleTransfer > 0 && want > s.cfg.MaxSingleTransfer {
		return domain.TransferResult{}, fmt.Errorf("treasury: top-up %d over %d: %w", want, s.cfg.MaxSingleTransfer, domain.ErrExceedsMaxTransfer)
	}

	cold, err := s.wallet(ctx, domain.WalletCold)
	if err != nil {
		return domain.TransferResult{}, err
	}
	hot, err := s.wallet(ctx, domain.WalletHot)
	if err != nil {
		return domain.TransferResult{}, err
	}
	reserve, err := s.balance(ctx, cold)
	if err != nil {
		return domain.TransferResult{}, err
	}
	if reserve < want {
		return domain.TransferResult{}, fmt.Errorf("treasury: top-up %d with reserve %d: %w", want, reserve, domain.ErrInsufficientReserve)
	}

	res, err := s.move(ctx, cold, string(domain.WalletHot), hot.Address, want)
	if err != nil {
		return res, err
	}
	s.events.Emit(ctx, domain.EventTreasuryTopUp, map[string]any{
		"amount": want,
		"proof":  res.ProofID,
	})
	return res, nil
}

// Payout sends a winning payout from the hot wallet to a player.
func (s *TreasuryService) Payout(ctx context.Context, to string, amount int64) (domain.TransferResult, error) {
	if !common.IsHexAddress(to) {
		return domain.TransferResult{}, fmt.Errorf("treasury: payout: %w", domain.ErrInvalidWallet)
	}
	hot, err := s.wallet(ctx, domain.WalletHot)
	if err != nil {
		return domain.TransferResult{}, err
	}
	dest, err := s.classify(ctx, to)
	if err != nil {
		return domain.TransferResult{}, err
	}
	return s.move(ctx, hot, dest, to, amount)
}

// classify names the flow destination for an address: a custody role or
// external.
func (s *TreasuryService) classify(ctx context.Context, address string) (string, error) {
	ws, err := s.wallets.List(ctx)
	if err != nil {
		return "", fmt.Errorf("treasury: list wallets: %w", err)
	}
	for _, w := range ws {
		if strings.EqualFold(w.Address, address) {
			return string(w.Role), nil
		}
	}
	return destExternal, nil
}

// move executes one transfer after the flow table has allowed it.
func (s *TreasuryService) move(ctx context.Context, from domain.Wallet, dest, address string, amount int64) (domain.TransferResult, error) {
	res := domain.TransferResult{From: from.Role, To: dest, Amount: amount}
	if err := checkFlow(from.Role, dest); err != nil {
		return res, fmt.Errorf("treasury: %w", err)
	}
	if amount <= 0 {
		return res, fmt.Errorf("treasury: transfer amount must be positive, got %d", amount)
	}

	mu := s.sendMu[from.Role]
	mu.Lock()
	defer mu.Unlock()

	proof, err := s.ledger.Transfer(ctx, from.Ref(), address, amount)
	res.ProofID = proof
	if err != nil {
		s.logger.ErrorContext(ctx, "transfer failed",
			slog.String("from", string(from.Role)),
			slog.String("to", dest),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("treasury: transfer %s -> %s: %w", from.Role, dest, err)
	}
	s.logger.InfoContext(ctx, "transfer executed",
		slog.String("from", string(from.Role)),
		slog.String("to", dest),
		slog.Int64("amount", amount),
		slog.String("proof", proof),
	)
	return res, nil
}

// destroy burns amount from the burn wallet. It is the only caller of the
// ledger's destruction primitive.
func (s *TreasuryService) destroy(ctx context.Context, burn domain.Wallet, amount int64) (string, error) {
	if err := checkFlow(burn.Role, destDestroy); err != nil {
		return "", fmt.Errorf("treasury: %w", err)
	}
	mu := s.sendMu[burn.Role]
	mu.Lock()
	defer mu.Unlock()

	id, err := s.ledger.Destroy(ctx, burn.Ref(), amount)
	if err != nil {
		return id, fmt.Errorf("treasury: destroy %d: %w", amount, err)
	}
	s.logger.InfoContext(ctx, "value destroyed",
		slog.Int64("amount", amount),
		slog.String("proof", id),
	)
	return id, nil
}

// SweepToBurnAndDestroy moves fees accrued since the last sweep from hot to
// burn and destroys them there. Residual burn balance from an earlier failed
// destroy is destroyed first.
func (s *TreasuryService) SweepToBurnAndDestroy(ctx context.Context) (domain.TransferResult, error) {
	res := domain.TransferResult{From: domain.WalletHot, To: string(domain.WalletBurn)}

	hot, err := s.wallet(ctx, domain.WalletHot)
	if err != nil {
		return res, err
	}
	burn, err := s.wallet(ctx, domain.WalletBurn)
	if err != nil {
		return res, err
	}

	residual, err := s.balance(ctx, burn)
	if err != nil {
		return res, err
	}
	if residual > 0 {
		if _, err := s.destroy(ctx, burn, residual); err != nil {
			return res, err
		}
		s.logger.WarnContext(ctx, "destroyed residual burn balance", slog.Int64("amount", residual))
	}

	var after time.Time
	last, err := s.sweeps.Last(ctx)
	switch {
	case err == nil:
		after = last.Through
	case !errors.Is(err, domain.ErrNotFound):
		return res, fmt.Errorf("treasury: last sweep: %w", err)
	}
	through := s.now()
	fees, err := s.commitments.SumFees(ctx, after, through)
	if err != nil {
		return res, fmt.Errorf("treasury: accrued fees: %w", err)
	}
	res.Amount = fees
	if fees <= 0 || fees < s.cfg.MinSweepAmount {
		res.Skipped = true
		res.Reason = fmt.Sprintf("accrued fees %d below minimum %d", fees, s.cfg.MinSweepAmount)
		return res, nil
	}

	// Claim the window before any value moves so a later failure can never
	// sweep the same fees twice.
	sweep := domain.FeeSweep{
		ID:        uuid.NewString(),
		Amount:    fees,
		Through:   through,
		CreatedAt: s.now(),
	}
	if err := s.sweeps.Record(ctx, sweep); err != nil {
		return res, fmt.Errorf("treasury: claim sweep window: %w", err)
	}

	moved, err := s.move(ctx, hot, string(domain.WalletBurn), burn.Address, fees)
	res.ProofID = moved.ProofID
	if err != nil {
		// Nothing left hot; release the window for the next cycle.
		sweep.Amount, sweep.Through = 0, after
		if rerr := s.sweeps.Record(ctx, sweep); rerr != nil {
			s.logger.ErrorContext(ctx, "release sweep window failed; fees stay hot until swept manually",
				slog.Int64("amount", fees),
				slog.String("error", rerr.Error()),
			)
		}
		return res, err
	}
	sweep.ProofID = res.ProofID
	s.recordSweep(ctx, sweep)

	// The fees left hot; a failed destroy leaves a burn residual that the
	// next cycle destroys.
	destroyID, err := s.destroy(ctx, burn, fees)
	if err != nil {
		return res, err
	}
	res.DestroyID = destroyID
	sweep.DestroyID = destroyID
	s.recordSweep(ctx, sweep)

	s.events.Emit(ctx, domain.EventTreasurySweep, map[string]any{
		"amount":  fees,
		"proof":   res.ProofID,
		"destroy": destroyID,
	})
	return res, nil
}

// recordSweep updates a claimed sweep with its transfer ids. The window is
// already claimed, so a failed write only loses the ids.
func (s *TreasuryService) recordSweep(ctx context.Context, sweep domain.FeeSweep) {
	if err := s.sweeps.Record(ctx, sweep); err != nil {
		s.logger.ErrorContext(ctx, "record sweep failed",
			slog.String("sweep_id", sweep.ID),
			slog.String("proof", sweep.ProofID),
			slog.String("destroy", sweep.DestroyID),
			slog.String("error", err.Error()),
		)
	}
}

// Status reports wallet balances, the top-up check and the policy limits.
func (s *TreasuryService) Status(ctx context.Context) (TreasuryStatus, error) {
	ws, refreshErr := s.RefreshBalances(ctx)
	if ws == nil && refreshErr != nil {
		return TreasuryStatus{}, refreshErr
	}
	st := TreasuryStatus{Wallets: ws, Limits: s.cfg}
	for _, w := range ws {
		if w.Role != domain.WalletHot {
			continue
		}
		st.TopUp = s.topUpCheck(w.Balance)
	}
	if refreshErr != nil {
		s.logger.WarnContext(ctx, "treasury status with stale balances", slog.String("error", refreshErr.Error()))
	}
	return st, nil
}
