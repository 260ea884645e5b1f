package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/config"
	"tradeloop/internal/engine"
	"tradeloop/internal/models"
	"tradeloop/internal/repository/memory"
	"tradeloop/internal/service"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

type stubTicker struct {
	report *engine.Report
	err    error
	calls  []uint64
}

func (s *stubTicker) Tick(_ context.Context, id uint64) (*engine.Report, error) {
	s.calls = append(s.calls, id)
	return s.report, s.err
}

type testAPI struct {
	router *gin.Engine
	store  *memory.Store
	ticker *stubTicker
	tick   *SessionHandler
}

func newAPI(t *testing.T, token string) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.New()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	r := gin.New()
	r.Use(RequireBearer(token))
	ticker := &stubTicker{}
	sessions := &SessionHandler{
		Sessions: &service.SessionService{
			Repo:   store,
			Engine: config.EngineConfig{StartingEquity: 10000},
			Now:    func() time.Time { return now },
		},
		Ticker: ticker,
		Repo:   store,
	}
	sessions.Register(r)
	(&StrategyHandler{Strategies: &service.StrategyService{Repo: store}}).Register(r)
	(&AccountHandler{Repo: store, ReconcileTol: 0.01}).Register(r)
	(&SettingsHandler{Settings: &service.SystemSettingsService{Repo: store}}).Register(r)
	(&HealthHandler{}).Register(r)
	return &testAPI{router: r, store: store, ticker: ticker, tick: sessions}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (a *testAPI) createRunningSession(t *testing.T) sessionView {
	t.Helper()
	w, env := a.do(t, http.MethodPost, "/api/v1/strategies", map[string]any{
		"user_id":        "u1",
		"name":           "trend",
		"model_provider": "openai",
		"model_name":     "gpt-test",
		"filters":        map[string]any{"exit": map[string]any{"mode": "tp_sl", "take_profit_pct": 3}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var strategy strategyView
	require.NoError(t, json.Unmarshal(env.Data, &strategy))

	w, env = a.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"user_id":         "u1",
		"strategy_id":     strategy.ID,
		"markets":         []string{"btc", "eth"},
		"cadence_seconds": 60,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sess sessionView
	require.NoError(t, json.Unmarshal(env.Data, &sess))

	w, env = a.do(t, http.MethodPost, "/api/v1/sessions/"+strconv.FormatUint(sess.ID, 10)+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	return sess
}

func TestSessionRoutes(t *testing.T) {
	api := newAPI(t, "")
	sess := api.createRunningSession(t)
	assert.Equal(t, models.SessionRunning, sess.Status)
	assert.Equal(t, []string{"BTC", "ETH"}, sess.Markets)
	assert.NotZero(t, sess.AccountID)

	w, env := api.do(t, http.MethodGet, "/api/v1/sessions?status=running", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []sessionView
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)

	w, _ = api.do(t, http.MethodGet, "/api/v1/sessions/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(t, http.MethodGet, "/api/v1/sessions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = api.do(t, http.MethodPost, "/api/v1/sessions/"+strconv.FormatUint(sess.ID, 10)+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stopped sessionView
	require.NoError(t, json.Unmarshal(env.Data, &stopped))
	assert.Equal(t, models.SessionStopped, stopped.Status)
}

func TestTickRoute(t *testing.T) {
	api := newAPI(t, "")
	path := "/api/v1/sessions/7/tick"

	api.ticker.report = &engine.Report{TickID: "t-1", SessionID: 7, Market: "BTC", Summary: "Hold"}
	w, env := api.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uint64{7}, api.ticker.calls)
	assert.Contains(t, string(env.Data), `"tick_id":"t-1"`)

	api.ticker.err = engine.ErrTickInProgress
	w, env = api.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "tick failed", env.Message)

	api.ticker.err = errors.New("boom")
	w, env = api.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var failure tickFailure
	require.NoError(t, json.Unmarshal(env.Data, &failure))
	assert.Equal(t, "boom", failure.Error)
	assert.Equal(t, "t-1", failure.TickID)
	assert.Empty(t, failure.Stack)

	api.tick.ExposeStack = true
	_, env = api.do(t, http.MethodPost, path, nil)
	require.NoError(t, json.Unmarshal(env.Data, &failure))
	assert.Contains(t, failure.Stack, "goroutine")
}

func TestDecisionRoute(t *testing.T) {
	api := newAPI(t, "")
	sess := api.createRunningSession(t)
	ctx := context.Background()
	for i, market := range []string{"BTC", "ETH", "BTC"} {
		require.NoError(t, api.store.InsertDecision(ctx, &models.Decision{
			TickID:        "t" + strconv.Itoa(i),
			SessionID:     sess.ID,
			AccountID:     sess.AccountID,
			Market:        market,
			ActionSummary: "Hold",
			Executed:      i == 2,
		}))
	}
	base := "/api/v1/sessions/" + strconv.FormatUint(sess.ID, 10) + "/decisions"

	_, env := api.do(t, http.MethodGet, base+"?market=btc", nil)
	var items []decisionView
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Len(t, items, 2)

	_, env = api.do(t, http.MethodGet, base+"?executed=true", nil)
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "t2", items[0].TickID)
}

func TestAccountRoutes(t *testing.T) {
	api := newAPI(t, "")
	ctx := context.Background()
	acct := &models.Account{
		UserID:         "u1",
		Mode:           models.ModeSimulated,
		StartingEquity: decimal.NewFromInt(10000),
		CashBalance:    decimal.NewFromInt(10295),
		Equity:         decimal.NewFromInt(10295),
	}
	require.NoError(t, api.store.CreateAccount(ctx, acct))
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, api.store.InsertTrade(ctx, &models.Trade{
		AccountID: acct.ID, Market: "BTC", Action: models.ActionOpen, Side: models.SideLong,
		Size: decimal.RequireFromString("0.1"), Price: decimal.NewFromInt(60000), Fee: decimal.NewFromInt(3), ExecutedAt: at,
	}))
	require.NoError(t, api.store.InsertTrade(ctx, &models.Trade{
		AccountID: acct.ID, Market: "BTC", Action: models.ActionClose, Side: models.SideLong,
		Size: decimal.RequireFromString("0.1"), Price: decimal.NewFromInt(63000), Fee: decimal.NewFromInt(2),
		RealizedPnL: decimal.NewFromInt(300), ExecutedAt: at.Add(time.Hour),
	}))
	base := "/api/v1/accounts/" + strconv.FormatUint(acct.ID, 10)

	w, env := api.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view accountView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, acct.ID, view.ID)

	w, env = api.do(t, http.MethodGet, base+"/trades?action=close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trades []tradeView
	require.NoError(t, json.Unmarshal(env.Data, &trades))
	require.Len(t, trades, 1)
	assert.EqualValues(t, 1, env.Meta["total"])

	w, _ = api.do(t, http.MethodGet, base+"/trades?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "id,executed_at"))

	w, env = api.do(t, http.MethodGet, base+"/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.True(t, rec.OK, string(env.Data))

	w, _ = api.do(t, http.MethodGet, "/api/v1/accounts/404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettingsRoutes(t *testing.T) {
	api := newAPI(t, "")

	w, _ := api.do(t, http.MethodGet, "/api/v1/settings/"+service.FeatureScheduler, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := api.do(t, http.MethodPut, "/api/v1/settings/"+service.FeatureScheduler, map[string]any{"value": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var item settingView
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, "false", string(item.Value))
	assert.Equal(t, models.SettingKindSwitch, item.Kind)
	assert.Equal(t, "api", item.UpdatedBy)

	w, _ = api.do(t, http.MethodPut, "/api/v1/settings/"+service.FeatureLiveTrading, map[string]any{"value": "yes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = api.do(t, http.MethodPut, "/api/v1/settings/engine.note", map[string]any{"value": map[string]any{"text": "paused for upgrade"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, models.SettingKindValue, item.Kind)

	_, env = api.do(t, http.MethodGet, "/api/v1/settings/switches", nil)
	var switches map[string]bool
	require.NoError(t, json.Unmarshal(env.Data, &switches))
	assert.False(t, switches[service.FeatureScheduler])
	assert.False(t, switches[service.FeatureLiveTrading])

	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/x", strings.NewReader(`{"value":}`))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireBearer(t *testing.T) {
	api := newAPI(t, "s3cret")

	w, _ := api.do(t, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w, _ = api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&HealthHandler{Checks: map[string]Check{
		"db":    func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("down") },
	}}).Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "down")
}
