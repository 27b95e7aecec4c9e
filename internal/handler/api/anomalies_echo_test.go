package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/repository"
	svcmetrics "FinPulse/internal/service/metrics"
	"FinPulse/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiFixture struct {
	e       *echo.Echo
	store   *repository.MemoryStore
	metrics *svcmetrics.APIMetrics
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ret := repository.DefaultRetention()
	ret.AutoCleanup = false
	store := repository.NewMemoryStore(repository.WithRetention(ret))
	t.Cleanup(func() { _ = store.Close() })

	m := svcmetrics.NewAPIMetrics(prometheus.NewRegistry())
	q := usecase.NewQueryService(store, nil, usecase.RetentionInfo{MaxAge: 24 * time.Hour, CleanupInterval: time.Hour, AutoCleanup: true})
	e := echo.New()
	NewAnomaliesEchoHandler(nil, q, m).RegisterRoutes(e)
	return &apiFixture{e: e, store: store, metrics: m}
}

func (f *apiFixture) get(t *testing.T, target string) envelope {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func (f *apiFixture) seedAnomaly(t *testing.T, sym string, score float64, reasons ...models.Reason) {
	t.Helper()
	require.NoError(t, f.store.UpsertAnomalyResult(context.Background(), models.AnomalyResult{
		Symbol:       sym,
		Timestamp:    time.Now().Add(-10 * time.Minute).Unix(),
		IntervalType: "15m",
		CurReturn:    0.02,
		AnomalyScore: score,
		Reasons:      reasons,
	}))
}

func TestAnomaliesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAnomaly(t, "BTCUSDT", 2.0, models.ReasonPrice)
	f.seedAnomaly(t, "ETHUSDT", 0.2, models.ReasonNormal)

	env := f.get(t, "/api/anomalies?anomaly_only=true")
	assert.Equal(t, http.StatusOK, env.Status)

	var view models.AnomaliesView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, 1, view.Count)
	assert.Equal(t, "BTCUSDT", view.Data[0].Symbol)
	assert.Equal(t, 2.0, view.Data[0].CurrentReturnPct)
	// defaults are applied to omitted parameters
	assert.Equal(t, 100, view.Filters.Limit)
	assert.Equal(t, 24, view.Filters.Hours)

	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.Latency))
}

func TestAnomaliesEndpointRejectsBadParams(t *testing.T) {
	f := newAPIFixture(t)

	env := f.get(t, "/api/anomalies?interval=1h")
	assert.Equal(t, http.StatusBadRequest, env.Status)

	env = f.get(t, "/api/anomalies/top?limit=5000")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestTopAnomaliesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAnomaly(t, "BTCUSDT", 2.0, models.ReasonPrice)
	f.seedAnomaly(t, "SOLUSDT", 0.4, models.ReasonVolume)

	env := f.get(t, "/api/anomalies/top?limit=5")
	var list struct {
		Rows  []models.TopAnomalyView `json:"rows"`
		Total int64                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Rows, 1)
	assert.Equal(t, "BTCUSDT", list.Rows[0].Symbol)
	assert.Equal(t, 1, list.Rows[0].Rank)
}

func TestKlinesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	open := time.Now().Add(-time.Hour).Truncate(15 * time.Minute).UnixMilli()
	require.NoError(t, f.store.UpsertCandle(context.Background(), models.Candle{
		Symbol: "BTCUSDT", OpenTime: open, CloseTime: open + 899_999,
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10, QuoteVolume: 1005,
	}))

	env := f.get(t, "/api/symbols/btcusdt/klines?limit=10")
	var view models.KlinesView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "BTCUSDT", view.Symbol)
	require.Equal(t, 1, view.Count)
	assert.Equal(t, open, view.Data[0].Timestamp)
	assert.Equal(t, 100.5, view.Data[0].Close)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	env := f.get(t, "/api/health")
	var view models.HealthView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "healthy", view.Status)
	assert.Equal(t, 24, view.Store.MaxAgeHours)
	assert.True(t, view.Store.AutoCleanup)
	assert.Nil(t, view.Ingestion)

	require.NoError(t, f.store.Close())
	env = f.get(t, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("health")))
}

func TestThrottlePerClient(t *testing.T) {
	f := newAPIFixture(t)

	limited := 0
	for i := 0; i < clientBurst+5; i++ {
		if f.get(t, "/api/stats").Status == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Positive(t, limited)
}

func TestStatsEndpointClosedStore(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.Close())

	env := f.get(t, "/api/stats")
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
	assert.NotContains(t, string(env.Data), "store closed")
}
