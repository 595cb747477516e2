package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/service"
)

// StakeService admits and lists stakes.
type StakeService interface {
	PlaceStake(ctx context.Context, req service.PlaceStakeRequest) (string, error)
	ListStakes(ctx context.Context, eventID string, opts domain.ListOpts) ([]domain.Stake, error)
	GetStake(ctx context.Context, id string) (domain.Stake, error)
}

// StakeHandler serves stake endpoints.
type StakeHandler struct {
	stakes StakeService
	logger *slog.Logger
}

// NewStakeHandler creates a StakeHandler.
func NewStakeHandler(stakes StakeService, logger *slog.Logger) *StakeHandler {
	return &StakeHandler{stakes: stakes, logger: logger}
}

type placeStakeRequest struct {
	OptionID  string          `json:"option_id"`
	Amount    decimal.Decimal `json:"amount"`
	ClientRef string          `json:"client_ref"`
}

type placeStakeResponse struct {
	StakeID string `json:"stake_id"`
	EventID string `json:"event_id"`
}

// PlaceStake stakes on behalf of the token subject.
// POST /api/events/{id}/stakes
func (h *StakeHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}
	var req placeStakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OptionID == "" {
		writeError(w, http.StatusBadRequest, "option_id is required")
		return
	}

	eventID := pathParam(r, "id")
	id, err := h.stakes.PlaceStake(r.Context(), service.PlaceStakeRequest{
		AccountID: c.Subject,
		EventID:   eventID,
		OptionID:  req.OptionID,
		Amount:    req.Amount,
		ClientRef: req.ClientRef,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place stake", err)
		return
	}
	writeJSON(w, http.StatusCreated, placeStakeResponse{StakeID: id, EventID: eventID})
}

type listStakesResponse struct {
	Stakes []domain.Stake `json:"stakes"`
}

// ListStakes lists an event's stakes.
// GET /api/events/{id}/stakes
func (h *StakeHandler) ListStakes(w http.ResponseWriter, r *http.Request) {
	stakes, err := h.stakes.ListStakes(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list stakes", err)
		return
	}
	if stakes == nil {
		stakes = []domain.Stake{}
	}
	writeJSON(w, http.StatusOK, listStakesResponse{Stakes: stakes})
}

// GetStake returns a stake to the account that placed it or an admin.
// Any other caller gets 404.
// GET /api/stakes/{id}
func (h *StakeHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}
	st, err := h.stakes.GetStake(r.Context(), pathParam(r, "id"))
	if err == nil && !c.CanActAs(st.AccountID) {
		err = domain.ErrNotFound
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "get stake", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
