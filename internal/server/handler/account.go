package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/service"
)

// AccountService manages accounts.
type AccountService interface {
	CreateAccount(ctx context.Context, req service.CreateAccountRequest) (domain.Account, error)
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	Ledger(ctx context.Context, id string, opts domain.ListOpts) ([]domain.LedgerEntry, error)
}

// AccountHandler serves account endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type createAccountRequest struct {
	ID             string          `json:"id"`
	DisplayName    string          `json:"display_name"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Unlimited      bool            `json:"unlimited"`
}

// CreateAccount opens an account.
// POST /api/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := h.accounts.CreateAccount(r.Context(), service.CreateAccountRequest{
		ID:             req.ID,
		DisplayName:    req.DisplayName,
		OpeningBalance: req.OpeningBalance,
		Unlimited:      req.Unlimited,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount returns an account to its owner or an admin.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	acct, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type ledgerResponse struct {
	Entries []domain.LedgerEntry `json:"entries"`
}

// Ledger returns an account's ledger, newest first.
// GET /api/accounts/{id}/ledger?limit=50&offset=0
func (h *AccountHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	entries, err := h.accounts.Ledger(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "ledger", err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, ledgerResponse{Entries: entries})
}

func (h *AccountHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := pathParam(r, "id")
	c, ok := caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication token")
		return "", false
	}
	if !c.CanActAs(id) {
		writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
		return "", false
	}
	return id, true
}
