package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	applogger "FinPulse/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsUsesRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := echo.New()
	e.Use(Metrics(reg, applogger.NewNop(), 0))
	e.GET("/api/symbols/:symbol/klines", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/symbols/"+sym+"/klines", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	// both symbols share one series keyed by the route template
	n, err := testutil.GatherAndCount(reg, "http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	e := echo.New()
	e.Use(Recover(applogger.NewNop()))
	e.GET("/boom", func(echo.Context) error { panic("kaboom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
