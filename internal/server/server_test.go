package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolbet/internal/auth"
	"github.com/alanyoungcy/poolbet/internal/cache/memory"
	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/server"
	"github.com/alanyoungcy/poolbet/internal/server/handler"
	"github.com/alanyoungcy/poolbet/internal/server/ws"
	"github.com/alanyoungcy/poolbet/internal/service"
	"github.com/alanyoungcy/poolbet/internal/store/sqlite"
)

type env struct {
	srv    *httptest.Server
	hub    *ws.Hub
	tokens auth.JWT
}

func newEnv(t *testing.T, cfg server.Config) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := memory.NewSignalBus(100)
	events := service.NewEventService(st, logger)
	accounts := service.NewAccountService(st, logger)
	stakes := service.NewStakeService(st, bus, service.DefaultStakeConfig(), logger)
	settlements := service.NewSettlementService(st, st, memory.NewLockManager(), memory.NewReportCache(), bus, nil,
		service.SettlementConfig{HouseAccountID: "house"}, logger)
	require.NoError(t, accounts.EnsureHouseAccount(context.Background(), "house"))

	hub := ws.NewHub(bus, logger, ws.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	tokens := auth.JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}
	h := server.NewHandler(cfg, server.Handlers{
		Health:      handler.NewHealthHandler(logger),
		Events:      handler.NewEventHandler(events, stakes, accounts, logger),
		Stakes:      handler.NewStakeHandler(stakes, logger),
		Settlements: handler.NewSettlementHandler(settlements, logger),
		Accounts:    handler.NewAccountHandler(accounts, logger),
	}, hub, tokens, memory.NewRateLimiter(), logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{srv: srv, hub: hub, tokens: tokens}
}

func (e *env) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, _, err := e.tokens.Sign(auth.Claims{
		Role:             role,
		RegisteredClaims: jwtSubject(subject),
	})
	require.NoError(t, err)
	return tok
}

func jwtSubject(s string) jwt.RegisteredClaims { return jwt.RegisteredClaims{Subject: s} }

func (e *env) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// setup creates an event and two funded bettors, returning the event ID and
// its option IDs.
func (e *env) setup(t *testing.T) (eventID, yes, no string) {
	t.Helper()
	admin := e.token(t, "ops", auth.RoleAdmin)

	status, ev := e.do(t, http.MethodPost, "/api/events", admin, map[string]any{
		"title":      "Will it rain?",
		"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"options":    []string{"Yes", "No"},
	})
	require.Equal(t, http.StatusCreated, status, ev)
	opts := ev["options"].([]any)
	eventID = ev["id"].(string)
	yes = opts[0].(map[string]any)["id"].(string)
	no = opts[1].(map[string]any)["id"].(string)

	for _, id := range []string{"alice", "bob"} {
		status, body := e.do(t, http.MethodPost, "/api/accounts", admin, map[string]any{
			"id": id, "opening_balance": "1000",
		})
		require.Equal(t, http.StatusCreated, status, body)
	}
	return eventID, yes, no
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, server.Config{})
	status, body := e.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := e.srv.Client().Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAuthorization(t *testing.T) {
	e := newEnv(t, server.Config{})
	eventID, yes, _ := e.setup(t)
	alice := e.token(t, "alice", auth.RoleBettor)
	body := map[string]any{"title": "x", "expires_at": time.Now().Add(time.Hour), "options": []string{"a", "b"}}

	status, _ := e.do(t, http.MethodPost, "/api/events", "", body)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = e.do(t, http.MethodPost, "/api/events", alice, body)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = e.do(t, http.MethodPost, "/api/events", "garbage", body)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodPost, "/api/events/"+eventID+"/stakes", "", map[string]any{"option_id": yes, "amount": "10"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodGet, "/api/accounts/bob", alice, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, acct := e.do(t, http.MethodGet, "/api/accounts/alice", alice, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1000", acct["balance"])
}

func TestGetStake(t *testing.T) {
	e := newEnv(t, server.Config{})
	eventID, yes, _ := e.setup(t)
	bob := e.token(t, "bob", auth.RoleBettor)

	status, body := e.do(t, http.MethodPost, "/api/events/"+eventID+"/stakes", bob, map[string]any{"option_id": yes, "amount": "20"})
	require.Equal(t, http.StatusCreated, status, body)
	stakeID := body["stake_id"].(string)

	status, st := e.do(t, http.MethodGet, "/api/stakes/"+stakeID, bob, nil)
	require.Equal(t, http.StatusOK, status, st)
	assert.Equal(t, "bob", st["account_id"])
	assert.Equal(t, eventID, st["event_id"])
	assert.Equal(t, "20", st["amount"])
	assert.Equal(t, string(domain.StakeStatusActive), st["status"])

	status, _ = e.do(t, http.MethodGet, "/api/stakes/"+stakeID, e.token(t, "ops", auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodGet, "/api/stakes/"+stakeID, e.token(t, "alice", auth.RoleBettor), nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodGet, "/api/stakes/missing", bob, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodGet, "/api/stakes/"+stakeID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestStakeQuoteSettleFlow(t *testing.T) {
	e := newEnv(t, server.Config{})
	eventID, yes, no := e.setup(t)
	alice := e.token(t, "alice", auth.RoleBettor)
	bob := e.token(t, "bob", auth.RoleBettor)
	admin := e.token(t, "ops", auth.RoleAdmin)
	stakes := "/api/events/" + eventID + "/stakes"

	status, body := e.do(t, http.MethodPost, stakes, bob, map[string]any{"option_id": no, "amount": "100"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEmpty(t, body["stake_id"])

	status, body = e.do(t, http.MethodGet, "/api/events/"+eventID+"/quote?option="+yes+"&amount=50", alice, nil)
	require.Equal(t, http.StatusOK, status, body)
	// 50 + 50/50 * 100 * 0.85
	assert.Equal(t, "135", body["return"])

	status, body = e.do(t, http.MethodPost, stakes, alice, map[string]any{"option_id": yes, "amount": "500"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "stake_too_large", body["code"])
	assert.NotEmpty(t, body["detail"])

	status, body = e.do(t, http.MethodPost, stakes, alice, map[string]any{"option_id": "nope", "amount": "10"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_option", body["code"])

	status, body = e.do(t, http.MethodPost, stakes, alice, map[string]any{"option_id": yes, "amount": "50", "client_ref": "r1"})
	require.Equal(t, http.StatusCreated, status, body)
	first := body["stake_id"]
	status, body = e.do(t, http.MethodPost, stakes, alice, map[string]any{"option_id": yes, "amount": "50", "client_ref": "r1"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, first, body["stake_id"])

	status, body = e.do(t, http.MethodGet, stakes, admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["stakes"], 2)

	status, _ = e.do(t, http.MethodGet, "/api/events/"+eventID+"/settlement", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = e.do(t, http.MethodPost, "/api/events/"+eventID+"/settle", admin, map[string]any{"winning_option_id": yes})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "15", body["house_cut"])
	assert.Equal(t, "135", body["total_paid"])

	status, body = e.do(t, http.MethodPost, "/api/events/"+eventID+"/settle", admin, map[string]any{"winning_option_id": no})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_settled", body["code"])

	status, body = e.do(t, http.MethodGet, "/api/events/"+eventID+"/settlement", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, yes, body["winning_option_id"])

	status, body = e.do(t, http.MethodGet, "/api/accounts/alice/ledger", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["entries"], 3) // deposit, stake, win

	status, body = e.do(t, http.MethodPost, stakes, alice, map[string]any{"option_id": yes, "amount": "10"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "event_closed", body["code"])
}

func TestListAndGetEvents(t *testing.T) {
	e := newEnv(t, server.Config{})
	eventID, _, _ := e.setup(t)

	status, body := e.do(t, http.MethodGet, "/api/events?status=active", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 1)

	status, _ = e.do(t, http.MethodGet, "/api/events?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = e.do(t, http.MethodGet, "/api/events/"+eventID, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", body["total_pool"])

	status, body = e.do(t, http.MethodGet, "/api/events/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])
}

func TestQuoteRateLimit(t *testing.T) {
	e := newEnv(t, server.Config{QuoteRatePerMinute: 2})
	eventID, yes, _ := e.setup(t)
	alice := e.token(t, "alice", auth.RoleBettor)
	path := "/api/events/" + eventID + "/quote?option=" + yes + "&amount=10"

	for i := 0; i < 2; i++ {
		status, _ := e.do(t, http.MethodGet, path, alice, nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, _ := e.do(t, http.MethodGet, path, alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)

	// Limits are per account.
	status, _ = e.do(t, http.MethodGet, path, e.token(t, "bob", auth.RoleBettor), nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestWebsocketStreamsPoolUpdates(t *testing.T) {
	e := newEnv(t, server.Config{})
	eventID, yes, _ := e.setup(t)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?event=" + eventID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	status, body := e.do(t, http.MethodPost, "/api/events/"+eventID+"/stakes",
		e.token(t, "alice", auth.RoleBettor), map[string]any{"option_id": yes, "amount": "20"})
	require.Equal(t, http.StatusCreated, status, body)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	msgType, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	var u domain.PoolUpdate
	require.NoError(t, json.Unmarshal(raw, &u))
	assert.Equal(t, domain.UpdatePoolChanged, u.Type)
	assert.Equal(t, eventID, u.EventID)
	assert.Equal(t, "20.00", u.TotalPool)
}
