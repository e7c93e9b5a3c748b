package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklo360/cc-sub001/internal/domain"
)

func TestCreateWalletOncePerRole(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	ctx := context.Background()

	_, err := h.treasury.CreateWallet(ctx, domain.WalletHot, otherAddr, "")
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = h.treasury.CreateWallet(ctx, domain.WalletRole("warm"), otherAddr, "")
	require.Error(t, err)

	addr, err := h.treasury.DepositAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", strings.ToLower(addr))
}

func TestCheckTopUpNeeded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	ctx := context.Background()

	h.ledger.setBalance(hotAddr, 1_000)
	check, err := h.treasury.CheckTopUpNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, check.Needed)

	h.ledger.setBalance(hotAddr, 999)
	check, err = h.treasury.CheckTopUpNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, check.Needed)
	// 5_000 - 999 capped at 3_000
	assert.Equal(t, int64(3_000), check.Amount)

	h.ledger.setBalance(hotAddr, 4_500)
	check, err = h.treasury.CheckTopUpNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, check.Needed)
}

func TestTopUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	ctx := context.Background()
	h.ledger.setBalance(coldAddr, 100_000)
	h.ledger.setBalance(hotAddr, 3_000)

	res, err := h.treasury.TopUp(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	h.ledger.setBalance(hotAddr, 500)
	res, err = h.treasury.TopUp(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(3_000), res.Amount)
	assert.Equal(t, int64(3_500), h.ledger.balanceOf(hotAddr))
	assert.Equal(t, int64(97_000), h.ledger.balanceOf(coldAddr))

	tooMuch := int64(3_001)
	_, err = h.treasury.TopUp(ctx, &tooMuch)
	require.ErrorIs(t, err, domain.ErrExceedsMaxTransfer)

	h.ledger.setBalance(coldAddr, 10)
	amount := int64(100)
	_, err = h.treasury.TopUp(ctx, &amount)
	require.ErrorIs(t, err, domain.ErrInsufficientReserve)

	entries, err := h.stores.Audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	var topUps int
	for _, e := range entries {
		if e.Event == domain.EventTreasuryTopUp {
			topUps++
		}
	}
	assert.Equal(t, 1, topUps)
}

func TestTopUpFailureSurfaces(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	h.ledger.setBalance(coldAddr, 100_000)
	h.ledger.transferErr = errors.New("nonce too low")

	amount := int64(100)
	_, err := h.treasury.TopUp(context.Background(), &amount)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce too low")
}

func TestPayoutFlowRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	ctx := context.Background()
	h.ledger.setBalance(hotAddr, 1_000)

	_, err := h.treasury.Payout(ctx, coldAddr, 10)
	require.ErrorIs(t, err, domain.ErrForbiddenFlow)
	_, err = h.treasury.Payout(ctx, hotAddr, 10)
	require.ErrorIs(t, err, domain.ErrForbiddenFlow)
	_, err = h.treasury.Payout(ctx, "0xnope", 10)
	require.ErrorIs(t, err, domain.ErrInvalidWallet)

	res, err := h.treasury.Payout(ctx, playerAddr, 10)
	require.NoError(t, err)
	assert.Equal(t, "external", res.To)
	assert.Equal(t, int64(10), h.ledger.balanceOf(playerAddr))
}

func TestCheckFlowTable(t *testing.T) {
	t.Parallel()

	allowed := [][2]string{
		{"cold", "hot"},
		{"hot", "burn"},
		{"hot", "external"},
		{"burn", "destroy"},
	}
	for _, f := range allowed {
		assert.NoError(t, checkFlow(domain.WalletRole(f[0]), f[1]), "%s -> %s", f[0], f[1])
	}

	forbidden := [][2]string{
		{"cold", "external"},
		{"cold", "burn"},
		{"cold", "destroy"},
		{"hot", "cold"},
		{"hot", "destroy"},
		{"burn", "hot"},
		{"burn", "external"},
	}
	for _, f := range forbidden {
		assert.ErrorIs(t, checkFlow(domain.WalletRole(f[0]), f[1]), domain.ErrForbiddenFlow, "%s -> %s", f[0], f[1])
	}
}

// depositFees creates deposited commitments carrying fee each.
func depositFees(t *testing.T, h *harness, fees ...int64) {
	t.Helper()
	ctx := context.Background()
	for i, fee := range fees {
		c := domain.Commitment{
			ID:        "sweep-" + string(rune('a'+i)) + "-" + h.clock.Now().Format("150405.000"),
			Wallet:    "0x" + string(rune('a'+i)),
			Stake:     100,
			Choice:    domain.OutcomeHeads,
			Hash:      "h",
			FeeAmount: fee,
			CreatedAt: h.clock.Now(),
			ExpiresAt: h.clock.Now().Add(defaultOpts().wager.CommitmentTTL),
		}
		require.NoError(t, h.stores.Commitments.Create(ctx, c))
		_, err := h.stores.Commitments.MarkDeposited(ctx, c.ID, "0xfee"+c.ID, h.clock.Now())
		require.NoError(t, err)
	}
}

func TestSweepToBurnAndDestroy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	ctx := context.Background()
	h.ledger.setBalance(hotAddr, 10_000)

	res, err := h.treasury.SweepToBurnAndDestroy(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	depositFees(t, h, 5, 7)
	h.clock.Advance(1)

	res, err = h.treasury.SweepToBurnAndDestroy(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(12), res.Amount)
	assert.NotEmpty(t, res.ProofID)
	assert.NotEmpty(t, res.DestroyID)
	assert.Equal(t, int64(10_000-12), h.ledger.balanceOf(hotAddr))
	assert.Zero(t, h.ledger.balanceOf(burnAddr))
	assert.Equal(t, int64(12), h.ledger.destroyed)

	h.clock.Advance(1)
	res, err = h.treasury.SweepToBurnAndDestroy(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped, "fees already swept")
}

func TestSweepDestroysResidualAfterFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	ctx := context.Background()
	h.ledger.setBalance(hotAddr, 10_000)

	depositFees(t, h, 20)
	h.clock.Advance(1)

	h.ledger.destroyErr = errors.New("burn reverted")
	_, err := h.treasury.SweepToBurnAndDestroy(ctx)
	require.Error(t, err)
	assert.Equal(t, int64(20), h.ledger.balanceOf(burnAddr))

	last, err := h.stores.Sweeps.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), last.Amount)
	assert.Empty(t, last.DestroyID)

	h.ledger.mu.Lock()
	h.ledger.destroyErr = nil
	h.ledger.mu.Unlock()
	h.clock.Advance(1)

	res, err := h.treasury.SweepToBurnAndDestroy(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, h.ledger.balanceOf(burnAddr))
	assert.Equal(t, int64(20), h.ledger.destroyed)
	// Cold is never touched by the sweep.
	assert.Zero(t, h.ledger.balanceOf(coldAddr))
}

// failingSweeps accepts the first Record and rejects every later one.
type failingSweeps struct {
	domain.FeeSweepStore
	records int
}

func (f *failingSweeps) Record(ctx context.Context, sweep domain.FeeSweep) error {
	f.records++
	if f.records > 1 {
		return errors.New("disk full")
	}
	return f.FeeSweepStore.Record(ctx, sweep)
}

func TestSweepWindowClaimedBeforeTransfer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	ctx := context.Background()
	h.ledger.setBalance(hotAddr, 10_000)
	h.treasury.sweeps = &failingSweeps{FeeSweepStore: h.stores.Sweeps}

	depositFees(t, h, 20)
	h.clock.Advance(1)

	res, err := h.treasury.SweepToBurnAndDestroy(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Amount)
	assert.Equal(t, int64(20), h.ledger.destroyed)

	h.clock.Advance(1)
	res, err = h.treasury.SweepToBurnAndDestroy(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped, "window already claimed")
	assert.Equal(t, int64(20), h.ledger.destroyed)
	assert.Equal(t, int64(10_000-20), h.ledger.balanceOf(hotAddr))
}

func TestSweepReleasesWindowWhenTransferFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	ctx := context.Background()
	h.ledger.setBalance(hotAddr, 10_000)

	depositFees(t, h, 20)
	h.clock.Advance(1)

	h.ledger.transferErr = errors.New("nonce too low")
	_, err := h.treasury.SweepToBurnAndDestroy(ctx)
	require.Error(t, err)
	assert.Equal(t, int64(10_000), h.ledger.balanceOf(hotAddr))

	h.ledger.mu.Lock()
	h.ledger.transferErr = nil
	h.ledger.mu.Unlock()
	h.clock.Advance(1)

	res, err := h.treasury.SweepToBurnAndDestroy(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(20), res.Amount)
	assert.Equal(t, int64(20), h.ledger.destroyed)
}

func TestTreasuryStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, defaultOpts())
	h.ledger.setBalance(coldAddr, 1_000_000)
	h.ledger.setBalance(hotAddr, 200)
	h.ledger.setBalance(burnAddr, 0)

	st, err := h.treasury.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Wallets, 3)
	assert.Equal(t, domain.WalletCold, st.Wallets[0].Role)
	assert.Equal(t, int64(1_000_000), st.Wallets[0].Balance)
	assert.True(t, st.TopUp.Needed)
	assert.Equal(t, int64(3_000), st.TopUp.Amount)
	assert.Equal(t, int64(5_000), st.Limits.HotTarget)
}
