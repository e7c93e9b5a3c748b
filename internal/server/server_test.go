package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/risk"
	"github.com/aklo360/cc-sub001/internal/server"
	"github.com/aklo360/cc-sub001/internal/server/handler"
	"github.com/aklo360/cc-sub001/internal/service"
)

type fakeWagers struct {
	commitErr  error
	gotChoice  domain.Outcome
	resolveRes service.ResolveResult
	resolveErr error
	statusErr  error
}

func (f *fakeWagers) Commit(_ context.Context, wallet string, stake int64, choice domain.Outcome) (service.CommitReceipt, error) {
	f.gotChoice = choice
	if f.commitErr != nil {
		return service.CommitReceipt{}, f.commitErr
	}
	return service.CommitReceipt{CommitmentID: "c1", CommitmentHash: "ab", Choice: choice, DepositAmount: stake, Payout: stake * 196 / 100}, nil
}

func (f *fakeWagers) Resolve(context.Context, string, string) (service.ResolveResult, error) {
	return f.resolveRes, f.resolveErr
}

func (f *fakeWagers) Status(_ context.Context, id string) (service.WagerView, error) {
	if f.statusErr != nil {
		return service.WagerView{}, f.statusErr
	}
	return service.WagerView{Commitment: domain.Commitment{ID: id, Status: domain.CommitmentPending}}, nil
}

func (f *fakeWagers) Cancel(_ context.Context, id string) (service.WagerView, error) {
	return service.WagerView{Commitment: domain.Commitment{ID: id, Status: domain.CommitmentExpired}}, nil
}

func (f *fakeWagers) CancelWallet(context.Context, string) (int64, error) { return 1, nil }

func (f *fakeWagers) DailyStats(context.Context) (risk.Stats, error) {
	return risk.Stats{Wagered: 100, DailyLossLimit: 1000}, nil
}

type fakeTreasury struct{}

func (fakeTreasury) Status(context.Context) (service.TreasuryStatus, error) {
	return service.TreasuryStatus{}, nil
}

func (fakeTreasury) PendingPayouts(context.Context, int) ([]domain.Commitment, error) {
	return []domain.Commitment{{ID: "c1", Payout: 196}, {ID: "c2", Payout: 98}}, nil
}

func (fakeTreasury) SettleManually(_ context.Context, id, proof string) (domain.Commitment, error) {
	if proof == "" {
		return domain.Commitment{}, domain.ErrInvalidProof
	}
	return domain.Commitment{ID: id, PayoutStatus: domain.PayoutPaid, PayoutProof: &proof}, nil
}

type fakeRuns struct{}

func (fakeRuns) Record(context.Context, domain.TaskRun) error { return nil }

func (fakeRuns) ListRecent(_ context.Context, task string, _ int) ([]domain.TaskRun, error) {
	return []domain.TaskRun{{Task: task, Status: domain.TaskSuccess}}, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type env struct {
	wagers *fakeWagers
	h      http.Handler
}

func newEnv(t *testing.T, cfg server.Config, limiter domain.RateLimiter, checks map[string]handler.Check) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := &fakeWagers{}
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(checks, logger),
		Wagers:      handler.NewWagerHandler(w, logger),
		Treasury:    handler.NewTreasuryHandler(fakeTreasury{}, fakeTreasury{}, logger),
		Maintenance: handler.NewMaintenanceHandler(fakeRuns{}, logger),
	}
	return &env{wagers: w, h: server.Routes(cfg, handlers, nil, limiter, logger)}
}

func (e *env) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCommitCreated(t *testing.T) {
	t.Parallel()
	e := newEnv(t, server.Config{}, nil, nil)

	rec := e.do(http.MethodPost, "/api/wagers", `{"wallet":"0xabc","stake":100,"choice":" HEADS "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OutcomeHeads, e.wagers.gotChoice)
	body := decode(t, rec)
	assert.Equal(t, "c1", body["commitment_id"])
	assert.EqualValues(t, 196, body["potential_payout"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCommitErrorStatuses(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		err  error
		code int
	}{
		"stake":     {fmt.Errorf("%w: 1 not in [10, 100]", domain.ErrInvalidStake), http.StatusBadRequest},
		"wallet":    {domain.ErrInvalidWallet, http.StatusBadRequest},
		"duplicate": {fmt.Errorf("store: %w", domain.ErrDuplicatePending), http.StatusConflict},
		"cooldown":  {domain.ErrCooldown, http.StatusTooManyRequests},
		"no wallet": {domain.ErrWalletNotConfigured, http.StatusServiceUnavailable},
		"unknown":   {errors.New("connection reset"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t, server.Config{}, nil, nil)
			e.wagers.commitErr = tc.err
			rec := e.do(http.MethodPost, "/api/wagers", `{"wallet":"0xabc","stake":1,"choice":"tails"}`)
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "connection reset")
			}
		})
	}
}

func TestCommitRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	e := newEnv(t, server.Config{}, nil, nil)
	rec := e.do(http.MethodPost, "/api/wagers", `{"wallet":"0xabc","stake":1,"choice":"tails","secret":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitRiskDenial(t *testing.T) {
	t.Parallel()
	e := newEnv(t, server.Config{}, nil, nil)
	resets := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	e.wagers.commitErr = &domain.RiskDenial{
		Reason:    "daily loss limit reached",
		Aggregate: domain.DailyRiskAggregate{Wagered: 10, Payouts: 1_490_010},
		ResetsAt:  resets,
	}

	rec := e.do(http.MethodPost, "/api/wagers", `{"wallet":"0xabc","stake":100,"choice":"heads"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "daily loss limit reached", body["reason"])
	assert.Equal(t, "2026-03-15T00:00:00Z", body["resets_at"])
	agg := body["aggregate"].(map[string]any)
	assert.EqualValues(t, 1_490_010, agg["payouts"])
}

func TestResolveVariants(t *testing.T) {
	t.Parallel()

	t.Run("verification failed is accepted for retry", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, server.Config{}, nil, nil)
		e.wagers.resolveRes = service.VerificationFailed{CommitmentID: "c1", DepositProofID: "0x1", Reason: "awaiting confirmations"}
		rec := e.do(http.MethodPost, "/api/wagers/c1/resolve", `{"deposit_proof_id":"0x1"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "verification_failed", body["status"])
		assert.Equal(t, "awaiting confirmations", body["resolution"].(map[string]any)["reason"])
	})

	t.Run("deferred payout is flagged", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, server.Config{}, nil, nil)
		e.wagers.resolveRes = service.Deferred{
			Resolved: service.Resolved{CommitmentID: "c1", Won: true, Payout: 80_000, PayoutPending: true, PayoutStatus: domain.PayoutDeferred},
			Reason:   "insufficient hot balance",
		}
		rec := e.do(http.MethodPost, "/api/wagers/c1/resolve", `{"deposit_proof_id":"0x1"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "deferred", body["status"])
		res := body["resolution"].(map[string]any)
		assert.Equal(t, true, res["payout_pending"])
		assert.Equal(t, "insufficient hot balance", res["reason"])
	})

	t.Run("already resolved returns the stored result", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, server.Config{}, nil, nil)
		e.wagers.resolveRes = service.Resolved{CommitmentID: "c1", Result: domain.OutcomeTails}
		e.wagers.resolveErr = domain.ErrAlreadyResolved
		rec := e.do(http.MethodPost, "/api/wagers/c1/resolve", `{"deposit_proof_id":"0x1"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "resolved", body["status"])
		assert.Equal(t, "tails", body["resolution"].(map[string]any)["result"])
	})

	t.Run("expired and replayed", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, server.Config{}, nil, nil)
		e.wagers.resolveErr = domain.ErrExpired
		assert.Equal(t, http.StatusGone, e.do(http.MethodPost, "/api/wagers/c1/resolve", `{"deposit_proof_id":"0x1"}`).Code)
		e.wagers.resolveErr = domain.ErrReplayDetected
		assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/wagers/c1/resolve", `{"deposit_proof_id":"0x1"}`).Code)
		e.wagers.resolveErr = fmt.Errorf("wager: commitment c1: %w", domain.ErrDepositOrphaned)
		rec := e.do(http.MethodPost, "/api/wagers/c1/resolve", `{"deposit_proof_id":"0x1"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "manual refund")
	})
}

func TestWagerReads(t *testing.T) {
	t.Parallel()
	e := newEnv(t, server.Config{}, nil, nil)

	rec := e.do(http.MethodGet, "/api/wagers/c9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c9", decode(t, rec)["id"])

	rec = e.do(http.MethodDelete, "/api/wagers/c9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "expired", decode(t, rec)["status"])

	rec = e.do(http.MethodGet, "/api/risk/daily", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1000, decode(t, rec)["daily_loss_limit"])

	e.wagers.statusErr = fmt.Errorf("wager: status: %w", domain.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/wagers/missing", "").Code)
}

func TestOperatorRoutes(t *testing.T) {
	t.Parallel()

	closed := newEnv(t, server.Config{}, nil, nil)
	assert.Equal(t, http.StatusForbidden, closed.do(http.MethodGet, "/api/payouts/pending", "").Code)

	e := newEnv(t, server.Config{APIKey: "s3cret"}, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/payouts/pending", "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/payouts/pending", "", "X-API-Key", "wrong").Code)

	rec := e.do(http.MethodGet, "/api/payouts/pending", "", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 294, body["total"])
	assert.Len(t, body["payouts"], 2)

	rec = e.do(http.MethodPost, "/api/payouts/c1/settle", `{"payout_proof_id":"0xfeed"}`, "X-API-Key", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decode(t, rec)["payout_status"])

	rec = e.do(http.MethodPost, "/api/payouts/c1/settle", `{}`, "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/api/maintenance/runs?task=fee_sweep", "", "X-API-Key", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode(t, rec)["runs"].([]any)
	assert.Equal(t, "fee_sweep", runs[0].(map[string]any)["task"])

	// Clearing a wallet's pending commitment is an operator action.
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodDelete, "/api/wallets/0xabc/pending", "").Code)
	assert.Equal(t, http.StatusForbidden, closed.do(http.MethodDelete, "/api/wallets/0xabc/pending", "").Code)
	rec = e.do(http.MethodDelete, "/api/wallets/0xabc/pending", "", "X-API-Key", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["cancelled"])

	// Public routes never need the key.
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/treasury", "").Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	e := newEnv(t, server.Config{RateLimit: 10, RateWindow: time.Minute}, denyAll{}, nil)
	rec := e.do(http.MethodGet, "/api/risk/daily", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	e := newEnv(t, server.Config{}, nil, map[string]handler.Check{"store": ok})
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/health", "").Code)

	e = newEnv(t, server.Config{}, nil, map[string]handler.Check{"store": ok, "redis": down})
	rec := e.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "dial tcp: refused", body["dependencies"].(map[string]any)["redis"])
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	e := newEnv(t, server.Config{CORSOrigins: []string{"https://flip.example"}}, nil, nil)
	rec := e.do(http.MethodOptions, "/api/wagers", "", "Origin", "https://flip.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://flip.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = e.do(http.MethodOptions, "/api/wagers", "", "Origin", "https://other.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
