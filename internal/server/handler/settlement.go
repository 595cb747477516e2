package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// SettlementService settles events and serves reports.
type SettlementService interface {
	Settle(ctx context.Context, eventID, winningOptionID string) (*domain.SettlementReport, error)
	Report(ctx context.Context, eventID string) (domain.SettlementReport, error)
}

// SettlementHandler serves settlement endpoints.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, logger: logger}
}

type settleRequest struct {
	WinningOptionID string `json:"winning_option_id"`
}

// Settle resolves an event.
// POST /api/events/{id}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WinningOptionID == "" {
		writeError(w, http.StatusBadRequest, "winning_option_id is required")
		return
	}

	report, err := h.settlements.Settle(r.Context(), pathParam(r, "id"), req.WinningOptionID)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetSettlement returns the report of a settled event.
// GET /api/events/{id}/settlement
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	report, err := h.settlements.Report(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
