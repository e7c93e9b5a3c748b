package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/service"
)

// TreasuryService is the read side of the treasury.
type TreasuryService interface {
	Status(ctx context.Context) (service.TreasuryStatus, error)
}

// PayoutService lists and settles owed payouts.
type PayoutService interface {
	PendingPayouts(ctx context.Context, limit int) ([]domain.Commitment, error)
	SettleManually(ctx context.Context, id, proof string) (domain.Commitment, error)
}

// TreasuryHandler serves treasury and payout endpoints.
type TreasuryHandler struct {
	treasury TreasuryService
	payouts  PayoutService
	logger   *slog.Logger
}

// NewTreasuryHandler creates a TreasuryHandler.
func NewTreasuryHandler(treasury TreasuryService, payouts PayoutService, logger *slog.Logger) *TreasuryHandler {
	return &TreasuryHandler{treasury: treasury, payouts: payouts, logger: logger}
}

// Status returns balances, the top-up check and transfer limits.
// GET /api/treasury
func (h *TreasuryHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.treasury.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "treasury status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type pendingPayoutsResponse struct {
	Payouts []domain.Commitment `json:"payouts"`
	Total   int64               `json:"total"`
}

// Pending lists payouts that are deferred, failed or still in flight.
// GET /api/payouts/pending?limit=100
func (h *TreasuryHandler) Pending(w http.ResponseWriter, r *http.Request) {
	cs, err := h.payouts.PendingPayouts(r.Context(), parseLimit(r, 100))
	if err != nil {
		writeServiceError(w, r, h.logger, "pending payouts", err)
		return
	}
	resp := pendingPayoutsResponse{Payouts: cs}
	if resp.Payouts == nil {
		resp.Payouts = []domain.Commitment{}
	}
	for _, c := range cs {
		resp.Total += c.Payout
	}
	writeJSON(w, http.StatusOK, resp)
}

type settleRequest struct {
	PayoutProofID string `json:"payout_proof_id"`
}

// Settle records a payout made out of band.
// POST /api/payouts/{id}/settle
func (h *TreasuryHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	c, err := h.payouts.SettleManually(r.Context(), r.PathValue("id"), req.PayoutProofID)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle payout", err)
		return
	}
	h.logger.InfoContext(r.Context(), "payout settled manually",
		slog.String("commitment_id", c.ID),
		slog.Int64("payout", c.Payout),
	)
	writeJSON(w, http.StatusOK, c)
}
