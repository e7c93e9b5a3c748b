package handler

import (
	"log/slog"
	"net/http"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// MaintenanceHandler exposes recorded task runs.
type MaintenanceHandler struct {
	runs   domain.TaskRunStore
	logger *slog.Logger
}

// NewMaintenanceHandler creates a MaintenanceHandler.
func NewMaintenanceHandler(runs domain.TaskRunStore, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{runs: runs, logger: logger}
}

// ListRuns returns the newest runs, optionally for one task.
// GET /api/maintenance/runs?task=fee_sweep&limit=50
func (h *MaintenanceHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRecent(r.Context(), r.URL.Query().Get("task"), parseLimit(r, 50))
	if err != nil {
		writeServiceError(w, r, h.logger, "list task runs", err)
		return
	}
	if runs == nil {
		runs = []domain.TaskRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
