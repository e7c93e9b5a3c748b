package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/fairness"
	"github.com/aklo360/cc-sub001/internal/risk"
	"github.com/aklo360/cc-sub001/internal/store/bolt"
)

const (
	coldAddr   = "0x00000000000000000000000000000000000000C0"
	hotAddr    = "0x00000000000000000000000000000000000000A1"
	burnAddr   = "0x00000000000000000000000000000000000000B2"
	playerAddr = "0x1111111111111111111111111111111111111111"
	otherAddr  = "0x2222222222222222222222222222222222222222"
)

type deposit struct {
	from, to string
	amount   int64
}

// fakeLedger is an in-memory token ledger.
type fakeLedger struct {
	mu          sync.Mutex
	deposits    map[string]deposit
	balances    map[string]int64
	transferErr error
	destroyErr  error
	verifyErr   error
	// onVerify runs at the start of every verification.
	onVerify  func()
	transfers int
	destroyed int64
	seq       int
}

var (
	_ domain.DepositVerifier = (*fakeLedger)(nil)
	_ domain.Ledger          = (*fakeLedger)(nil)
)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{deposits: map[string]deposit{}, balances: map[string]int64{}}
}

func (f *fakeLedger) addDeposit(proof string, d deposit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits[proof] = d
}

func (f *fakeLedger) setBalance(addr string, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[strings.ToLower(addr)] = v
}

func (f *fakeLedger) balanceOf(addr string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[strings.ToLower(addr)]
}

// Canonical lowercases hex so mixed-case spellings share one key.
func (f *fakeLedger) Canonical(proof string) (string, error) {
	proof = strings.TrimSpace(proof)
	if len(proof) < 3 || !strings.EqualFold(proof[:2], "0x") {
		return "", domain.ErrInvalidProof
	}
	return strings.ToLower(proof), nil
}

func (f *fakeLedger) VerifyTransfer(_ context.Context, proof, from string, minAmount int64, to string) (domain.TransferVerification, error) {
	f.mu.Lock()
	hook := f.onVerify
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return domain.TransferVerification{}, f.verifyErr
	}
	d, ok := f.deposits[proof]
	if !ok {
		return domain.TransferVerification{Reason: "transaction not found"}, nil
	}
	if !strings.EqualFold(d.from, from) || !strings.EqualFold(d.to, to) || d.amount < minAmount {
		return domain.TransferVerification{Amount: d.amount, Reason: "transfer does not match"}, nil
	}
	return domain.TransferVerification{Valid: true, Amount: d.amount}, nil
}

func (f *fakeLedger) Transfer(_ context.Context, from domain.WalletRef, to string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return "", f.transferErr
	}
	src := strings.ToLower(from.Address)
	if f.balances[src] < amount {
		return "", errors.New("insufficient funds")
	}
	f.balances[src] -= amount
	f.balances[strings.ToLower(to)] += amount
	f.transfers++
	f.seq++
	return fmt.Sprintf("0xtransfer%d", f.seq), nil
}

func (f *fakeLedger) Destroy(_ context.Context, from domain.WalletRef, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyErr != nil {
		return "", f.destroyErr
	}
	src := strings.ToLower(from.Address)
	if f.balances[src] < amount {
		return "", errors.New("insufficient funds")
	}
	f.balances[src] -= amount
	f.destroyed += amount
	f.seq++
	return fmt.Sprintf("0xburn%d", f.seq), nil
}

func (f *fakeLedger) Balance(_ context.Context, address string) (int64, error) {
	return f.balanceOf(address), nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	stores   domain.Stores
	ledger   *fakeLedger
	clock    *clock
	treasury *TreasuryService
	wagers   *WagerService
}

type harnessOpts struct {
	wager    WagerConfig
	limits   risk.Limits
	treasury TreasuryConfig
	limiter  domain.RateLimiter
}

func defaultOpts() harnessOpts {
	return harnessOpts{
		wager: WagerConfig{
			MinStake:      10,
			MaxStake:      1_000_000,
			CommitmentTTL: 2 * time.Minute,
			VerifyTimeout: time.Second,
		},
		limits: risk.Limits{HouseEdgeBps: 200, DailyLossLimit: 1_500_000},
		treasury: TreasuryConfig{
			HotLowThreshold:   1_000,
			HotTarget:         5_000,
			MaxSingleTransfer: 3_000,
		},
	}
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	client, err := bolt.Open(filepath.Join(t.TempDir(), "flip.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores := client.Stores()
	ledger := newFakeLedger()
	clk := &clock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	events := NewEvents(stores.Audit, nil, nil, logger)

	treasury := NewTreasuryService(stores.Wallets, stores.Commitments, stores.Sweeps, ledger, events, opts.treasury, logger)
	treasury.now = clk.Now
	wagers := NewWagerService(stores.Commitments, stores.Replay, ledger, treasury,
		risk.NewEngine(opts.limits), opts.limiter, events, opts.wager, logger)
	wagers.now = clk.Now

	ctx := context.Background()
	for role, addr := range map[domain.WalletRole]string{
		domain.WalletCold: coldAddr,
		domain.WalletHot:  hotAddr,
		domain.WalletBurn: burnAddr,
	} {
		_, err := treasury.CreateWallet(ctx, role, addr, "")
		require.NoError(t, err)
	}

	return &harness{stores: stores, ledger: ledger, clock: clk, treasury: treasury, wagers: wagers}
}

// proofFor finds a deposit proof that makes the commitment land on want and
// registers a deposit of stake plus fee with the ledger.
func (h *harness) proofFor(t *testing.T, commitmentID string, want domain.Outcome, fee int64) string {
	t.Helper()
	c, err := h.stores.Commitments.GetByID(context.Background(), commitmentID)
	require.NoError(t, err)
	for i := 0; i < 1_000; i++ {
		proof := fmt.Sprintf("0x%064x", i+1)
		if fairness.Resolve(c.Secret, []byte(proof)) != want {
			continue
		}
		if _, err := h.stores.Replay.Owner(context.Background(), proof); err == nil {
			continue
		}
		h.ledger.addDeposit(proof, deposit{from: c.Wallet, to: hotAddr, amount: c.Stake + fee})
		return proof
	}
	t.Fatal("no proof found")
	return ""
}
