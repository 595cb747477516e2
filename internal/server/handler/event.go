package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/service"
)

// EventService is what the event handler needs from the service layer.
type EventService interface {
	CreateEvent(ctx context.Context, req service.CreateEventRequest) (domain.Event, error)
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)
}

// QuoteService prices hypothetical stakes.
type QuoteService interface {
	Quote(ctx context.Context, eventID, optionID string, amount decimal.Decimal, callerUnlimited bool) (domain.Quote, error)
}

// AccountReader looks up accounts.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (domain.Account, error)
}

// EventHandler serves the event catalogue and quotes.
type EventHandler struct {
	events   EventService
	quotes   QuoteService
	accounts AccountReader
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventService, quotes QuoteService, accounts AccountReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, quotes: quotes, accounts: accounts, logger: logger}
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
}

// ListEvents lists events, optionally by status.
// GET /api/events?status=active&limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := domain.EventFilter{ListOpts: parseListOpts(r)}
	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = domain.EventStatus(strings.ToLower(s))
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+s)
			return
		}
	}

	events, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

// GetEvent returns one event with its pool snapshot.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.GetEvent(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type createEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ExpiresAt   time.Time `json:"expires_at"`
	Options     []string  `json:"options"`
}

// CreateEvent opens a new event.
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := h.events.CreateEvent(r.Context(), service.CreateEventRequest{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		ExpiresAt:   req.ExpiresAt,
		Options:     req.Options,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// Quote prices a hypothetical stake for the caller.
// GET /api/events/{id}/quote?option=<optionID>&amount=<decimal>
func (h *EventHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	optionID := q.Get("option")
	if optionID == "" {
		writeError(w, http.StatusBadRequest, "option query parameter required")
		return
	}
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal number")
		return
	}

	unlimited := false
	if c, ok := caller(r); ok {
		acct, err := h.accounts.GetAccount(r.Context(), c.Subject)
		switch {
		case err == nil:
			unlimited = acct.Unlimited
		case !errors.Is(err, domain.ErrNotFound):
			writeServiceError(w, r, h.logger, "quote", err)
			return
		}
	}

	quote, err := h.quotes.Quote(r.Context(), pathParam(r, "id"), optionID, amount, unlimited)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
