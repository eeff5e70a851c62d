package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britej3/Freq-trader/internal/domain"
	"github.com/britej3/Freq-trader/internal/engine"
	"github.com/britej3/Freq-trader/internal/ledger"
	"github.com/britej3/Freq-trader/internal/market"
	"github.com/britej3/Freq-trader/internal/server/handler"
)

type fakeEngine struct {
	emergency bool
	last      *engine.CycleReport
}

func (f *fakeEngine) Stats() engine.Stats {
	return engine.Stats{Cycles: 7, TradesExecuted: 2, RealizedPnL: decimal.RequireFromString("3.5")}
}

func (f *fakeEngine) LastReport() (engine.CycleReport, bool) {
	if f.last == nil {
		return engine.CycleReport{}, false
	}
	return *f.last, true
}

func (f *fakeEngine) SetEmergencyStop(on bool) { f.emergency = on }

type fakeLedger struct{ trades []domain.Trade }

func (f *fakeLedger) CurrentBalances() map[domain.BalanceKey]decimal.Decimal {
	return map[domain.BalanceKey]decimal.Decimal{
		{Venue: "b", Asset: "USDT"}: decimal.NewFromInt(10),
		{Venue: "a", Asset: "USDT"}: decimal.NewFromInt(20),
		{Venue: "a", Asset: "BTC"}:  decimal.NewFromInt(1),
	}
}

func (f *fakeLedger) Positions() []domain.Position { return nil }

func (f *fakeLedger) TradeHistory() []domain.Trade {
	return append([]domain.Trade(nil), f.trades...)
}

func (f *fakeLedger) Summary() ledger.Summary { return ledger.Summary{Trades: len(f.trades)} }

type fakeHistory struct{ err error }

func (f *fakeHistory) SaveCycle(context.Context, domain.CycleRecord) error { return nil }

func (f *fakeHistory) ListCycles(_ context.Context, opts domain.ListOpts) ([]domain.CycleRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.CycleRecord{{ID: "c2", Cycle: 2, Executed: 1, Report: []byte(`{"cycle":2}`)}}, nil
}

type fakeLimiter struct{ calls int }

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.calls++
	return f.calls <= 2, nil
}

func (f *fakeLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

type fixture struct {
	eng     *fakeEngine
	handler http.Handler
}

func newFixture(t *testing.T, cfg Config, history domain.CycleStore, limiter domain.RateLimiter) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := market.NewStore()
	require.NoError(t, store.Push("a", domain.MustPair("BTC/USDT"),
		decimal.NewFromInt(99), decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(1), 1, time.Now()))

	eng := &fakeEngine{}
	trades := []domain.Trade{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}}
	h := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Checker{
			"memory": func(context.Context) error { return nil },
		}, logger),
		Status:  handler.NewStatusHandler("paper", eng, logger),
		Ledger:  handler.NewLedgerHandler(&fakeLedger{trades: trades}),
		Markets: handler.NewMarketHandler(store),
		History: handler.NewHistoryHandler(history, nil, logger),
	}
	return &fixture{eng: eng, handler: NewServer(cfg, h, limiter, logger).Handler()}
}

func (f *fixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStatusAndLastCycle(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := f.do(http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "paper", body["mode"])
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 7, stats["cycles"])
	assert.Equal(t, "3.5", stats["realized_pnl"])

	rec = f.do(http.MethodGet, "/api/cycles/last", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.eng.last = &engine.CycleReport{ID: "r1", Cycle: 3, Executed: 1}
	rec = f.do(http.MethodGet, "/api/cycles/last", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", decode(t, rec)["id"])
}

func TestBalancesAreSorted(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	var body struct {
		Balances []struct {
			Venue, Asset, Balance string
		} `json:"balances"`
	}
	rec := f.do(http.MethodGet, "/api/balances", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Balances, 3)
	assert.Equal(t, "a", body.Balances[0].Venue)
	assert.Equal(t, "BTC", body.Balances[0].Asset)
	assert.Equal(t, "USDT", body.Balances[1].Asset)
	assert.Equal(t, "b", body.Balances[2].Venue)
	assert.Equal(t, "10", body.Balances[2].Balance)
}

func TestTradesNewestFirstWithPaging(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	var body struct {
		Trades []domain.Trade `json:"trades"`
		Total  int            `json:"total"`
	}
	rec := f.do(http.MethodGet, "/api/trades?limit=2&offset=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	require.Len(t, body.Trades, 2)
	assert.Equal(t, "t2", body.Trades[0].ID)
	assert.Equal(t, "t1", body.Trades[1].ID)

	rec = f.do(http.MethodGet, "/api/trades?offset=10", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Trades)

	rec = f.do(http.MethodGet, "/api/trades?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketsAndHealth(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := f.do(http.MethodGet, "/api/markets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var set domain.SnapshotSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Snapshots, 1)
	assert.Equal(t, "a", set.Snapshots[0].Venue)

	rec = f.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestHealthReportsFailingDependency(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewHealthHandler(map[string]handler.Checker{
		"redis":    func(context.Context) error { return errors.New("connection refused") },
		"postgres": func(context.Context) error { return nil },
	}, logger)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "connection refused", deps["redis"])
	assert.Equal(t, "ok", deps["postgres"])
}

func TestCycleHistory(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	assert.Equal(t, http.StatusNotImplemented, f.do(http.MethodGet, "/api/cycles", "", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, f.do(http.MethodGet, "/api/audit", "", nil).Code)

	f = newFixture(t, Config{}, &fakeHistory{}, nil)
	rec := f.do(http.MethodGet, "/api/cycles?full=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cycles := decode(t, rec)["cycles"].([]any)
	require.Len(t, cycles, 1)
	row := cycles[0].(map[string]any)
	assert.Equal(t, "c2", row["id"])
	assert.Equal(t, map[string]any{"cycle": float64(2)}, row["report"])

	f = newFixture(t, Config{}, &fakeHistory{err: errors.New("db down")}, nil)
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/cycles", "", nil).Code)
}

func TestEmergencyStop(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := f.do(http.MethodPost, "/api/emergency-stop", `{"enabled":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.eng.emergency)

	rec = f.do(http.MethodPost, "/api/emergency-stop", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, f.eng.emergency)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/emergency-stop", "", nil).Code)
}

func TestAuthSparesHealth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "s3cret"}, nil, nil)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/health", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusOK,
		f.do(http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK,
		f.do(http.MethodGet, "/api/status", "", map[string]string{"X-API-Key": "s3cret"}).Code)
}

func TestCORSAndRateLimit(t *testing.T) {
	lim := &fakeLimiter{}
	f := newFixture(t, Config{CORSOrigins: []string{"http://ui.local"}, RateLimit: 2, RateWindow: 5 * time.Second}, nil, lim)

	rec := f.do(http.MethodOptions, "/api/status", "", map[string]string{"Origin": "http://ui.local"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://ui.local", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodGet, "/api/status", "", map[string]string{"Origin": "http://evil.local"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/status", "", nil).Code)
	rec = f.do(http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := f.do(http.MethodGet, "/api/health", "", map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodGet, "/api/health", "", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}
