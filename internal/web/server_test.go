package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/infrastructure/metrics"
	"github.com/vitos/grid_market_maker/internal/infrastructure/storage"
	"go.uber.org/zap"
)

type fakeStats struct {
	running bool
}

func (f fakeStats) Snapshot() domain.PerformanceSnapshot {
	return domain.PerformanceSnapshot{
		Mode:        "ema",
		Balance:     decimal.NewFromInt(1010),
		TotalTrades: 4,
	}
}

func (f fakeStats) SymbolViews() []domain.SymbolView {
	return []domain.SymbolView{{Symbol: "BTCUSDT", LongLegs: 1, PendingOrders: 5}}
}

func (f fakeStats) Running() bool { return f.running }

func newTestServer(t *testing.T) (*Server, *storage.SQLiteStore) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	m.OrderPlaced("BTCUSDT", domain.SideBuy, "grid")
	return NewServer(0, fakeStats{running: true}, store, m.Handler(), zap.NewNop()), store
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap domain.PerformanceSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "ema", snap.Mode)
	assert.Equal(t, 4, snap.TotalTrades)
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(1010)))
}

func TestSymbolsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/symbols")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []domain.SymbolView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "BTCUSDT", views[0].Symbol)
	assert.Equal(t, 5, views[0].PendingOrders)
}

func TestFillsEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		require.NoError(t, store.SaveFill(ctx, &domain.Fill{
			Symbol:     sym,
			OrderID:    "o-" + sym,
			Side:       domain.SideBuy,
			Price:      decimal.NewFromInt(100),
			Size:       decimal.RequireFromString("0.01"),
			Confidence: domain.FillConfirmed,
			FilledAt:   time.Now(),
		}))
	}

	rec := get(t, s, "/api/fills?symbol=ETHUSDT")
	require.Equal(t, http.StatusOK, rec.Code)
	var fills []domain.Fill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fills))
	require.Len(t, fills, 1)
	assert.Equal(t, "o-ETHUSDT", fills[0].OrderID)

	rec = get(t, s, "/api/ema-trades")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/healthz")
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `grid_orders_total{kind="grid",side="BUY",symbol="BTCUSDT"} 1`)

	stopped := NewServer(0, fakeStats{}, nil, nil, zap.NewNop())
	rec = get(t, stopped, "/healthz")
	assert.JSONEq(t, `{"status":"stopped"}`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, get(t, stopped, "/api/fills").Code)
	assert.Equal(t, http.StatusNotFound, get(t, stopped, "/metrics").Code)
}
