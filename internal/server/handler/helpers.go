package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// maxBodyBytes caps request bodies; every request here is a few small fields.
const maxBodyBytes = 16 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseLimit reads ?limit=, defaulting to def and capped at 500.
func parseLimit(r *http.Request, def int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, 500)
}

// riskDenialBody is the 422 payload; clients show the reset time.
type riskDenialBody struct {
	Error     string                    `json:"error"`
	Reason    string                    `json:"reason"`
	Aggregate domain.DailyRiskAggregate `json:"aggregate"`
	ResetsAt  time.Time                 `json:"resets_at"`
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidStake),
		errors.Is(err, domain.ErrInvalidChoice),
		errors.Is(err, domain.ErrInvalidWallet),
		errors.Is(err, domain.ErrInvalidProof):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDepositOrphaned):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrDuplicatePending),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrNotCancellable),
		errors.Is(err, domain.ErrReplayDetected),
		errors.Is(err, domain.ErrAlreadyConsumed),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRiskDenied):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCooldown), errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrWalletNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError answers with the status matching err. Unexpected errors
// are logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var denial *domain.RiskDenial
	if errors.As(err, &denial) {
		writeJSON(w, http.StatusUnprocessableEntity, riskDenialBody{
			Error:     domain.ErrRiskDenied.Error(),
			Reason:    denial.Reason,
			Aggregate: denial.Aggregate,
			ResetsAt:  denial.ResetsAt,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}
