package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/poolbet/internal/auth"
	"github.com/alanyoungcy/poolbet/internal/domain"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

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

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// errorMapping pairs a sentinel with its HTTP status and machine code. The
// first match wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidOption, http.StatusUnprocessableEntity, "invalid_option"},
	{domain.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{domain.ErrStakeTooLarge, http.StatusUnprocessableEntity, "stake_too_large"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{domain.ErrEventClosed, http.StatusUnprocessableEntity, "event_closed"},
	{domain.ErrInvalidEvent, http.StatusUnprocessableEntity, "invalid_event"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAlreadySettled, http.StatusConflict, "already_settled"},
	{domain.ErrNotActive, http.StatusConflict, "not_active"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrLockHeld, http.StatusConflict, "settlement_in_progress"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrSettlementInvariantViolation, http.StatusInternalServerError, "settlement_invariant_violation"},
}

// writeServiceError maps a service error onto a status and body. Unknown
// errors are logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}
		body := errorBody{Error: m.err.Error(), Code: m.code}
		if m.status == http.StatusUnprocessableEntity {
			body.Detail = detail(err, m.err)
		}
		if m.status >= http.StatusInternalServerError {
			logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		}
		writeJSON(w, m.status, body)
		return
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// detail returns the text that a wrapping layer added right after the
// sentinel, e.g. "100.01 > 100.00" for "stake exceeds ...: 100.01 > 100.00".
func detail(err, sentinel error) string {
	msg, want := err.Error(), sentinel.Error()+": "
	i := strings.Index(msg, want)
	if i < 0 {
		return ""
	}
	return msg[i+len(want):]
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter (Go 1.22+ routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// caller returns the authenticated claims. Routes behind RequireAuth always
// have them.
func caller(r *http.Request) (auth.Claims, bool) {
	return auth.ClaimsFromContext(r.Context())
}
