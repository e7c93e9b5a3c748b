package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/risk"
	"github.com/aklo360/cc-sub001/internal/service"
)

// WagerService defines the methods that the wager handlers require from the
// service layer.
type WagerService interface {
	Commit(ctx context.Context, wallet string, stake int64, choice domain.Outcome) (service.CommitReceipt, error)
	Resolve(ctx context.Context, id, proof string) (service.ResolveResult, error)
	Status(ctx context.Context, id string) (service.WagerView, error)
	Cancel(ctx context.Context, id string) (service.WagerView, error)
	CancelWallet(ctx context.Context, wallet string) (int64, error)
	DailyStats(ctx context.Context) (risk.Stats, error)
}

// WagerHandler serves the player-facing commit / resolve protocol.
type WagerHandler struct {
	wagers WagerService
	logger *slog.Logger
}

// NewWagerHandler creates a WagerHandler with the given service and logger.
func NewWagerHandler(wagers WagerService, logger *slog.Logger) *WagerHandler {
	return &WagerHandler{wagers: wagers, logger: logger}
}

type commitRequest struct {
	Wallet string         `json:"wallet"`
	Stake  int64          `json:"stake"`
	Choice domain.Outcome `json:"choice"`
}

// Commit opens a commitment and returns where to deposit.
// POST /api/wagers
func (h *WagerHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Choice = domain.Outcome(strings.ToLower(strings.TrimSpace(string(req.Choice))))

	receipt, err := h.wagers.Commit(r.Context(), req.Wallet, req.Stake, req.Choice)
	if err != nil {
		writeServiceError(w, r, h.logger, "commit", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type resolveRequest struct {
	DepositProofID string `json:"deposit_proof_id"`
}

// resolveResponse tags the result variant so clients can switch on it.
type resolveResponse struct {
	Status     string                `json:"status"`
	Resolution service.ResolveResult `json:"resolution"`
}

// Resolve verifies the deposit and settles the wager. A deposit that cannot
// be confirmed yet answers 202 so the client retries; an already resolved
// commitment answers 409 with the stored result.
// POST /api/wagers/{id}/resolve
func (h *WagerHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.wagers.Resolve(r.Context(), r.PathValue("id"), req.DepositProofID)
	switch {
	case errors.Is(err, domain.ErrAlreadyResolved) && res != nil:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      err.Error(),
			"status":     res.Kind(),
			"resolution": res,
		})
		return
	case err != nil:
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}

	code := http.StatusOK
	if _, ok := res.(service.VerificationFailed); ok {
		code = http.StatusAccepted
	}
	writeJSON(w, code, resolveResponse{Status: res.Kind(), Resolution: res})
}

// Get returns a commitment. The secret appears once it is resolved.
// GET /api/wagers/{id}
func (h *WagerHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.wagers.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get wager", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Cancel expires a pending commitment.
// DELETE /api/wagers/{id}
func (h *WagerHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	view, err := h.wagers.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel wager", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelWallet releases the wallet's pending slot, if any.
// DELETE /api/wallets/{wallet}/pending
func (h *WagerHandler) CancelWallet(w http.ResponseWriter, r *http.Request) {
	n, err := h.wagers.CancelWallet(r.Context(), r.PathValue("wallet"))
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

// DailyRisk reports today's aggregate against the loss limit.
// GET /api/risk/daily
func (h *WagerHandler) DailyRisk(w http.ResponseWriter, r *http.Request) {
	stats, err := h.wagers.DailyStats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "daily risk", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
