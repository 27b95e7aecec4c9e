package api

import (
	"errors"
	"net/http"
	"time"

	models "FinPulse/internal/domain/models"
	"FinPulse/internal/repository"
	svcmetrics "FinPulse/internal/service/metrics"
	"FinPulse/internal/service/ratelimit"
	"FinPulse/internal/usecase"
	xhttp "FinPulse/pkg/http"
	xlogger "FinPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	clientBurst  = 20
	clientRefill = 10
)

// AnomaliesEchoHandler serves the read-only query API.
type AnomaliesEchoHandler struct {
	logger  *xlogger.Logger
	q       *usecase.QueryService
	metrics *svcmetrics.APIMetrics
	rl      *ratelimit.Limiter
}

func NewAnomaliesEchoHandler(logger *xlogger.Logger, q *usecase.QueryService, m *svcmetrics.APIMetrics) *AnomaliesEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &AnomaliesEchoHandler{logger: logger, q: q, metrics: m, rl: ratelimit.New()}
}

func (h *AnomaliesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.throttle)
	g.GET("/health", h.Health)
	g.GET("/stats", h.Stats)
	g.GET("/anomalies", h.Anomalies)
	g.GET("/anomalies/top", h.TopAnomalies)
	g.GET("/symbols/:symbol/klines", h.Klines)
}

func (h *AnomaliesEchoHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.rl.Allow(c.RealIP(), clientBurst, clientRefill) {
			h.logger.Warn("api rate_limited", xlogger.String("remote", c.RealIP()))
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
		}
		return next(c)
	}
}

// fail records the error for endpoint and writes the mapped envelope.
// A closed store maps to 503.
func (h *AnomaliesEchoHandler) fail(c echo.Context, endpoint string, start time.Time, err error) error {
	h.metrics.Observe(endpoint, start, err)
	h.logger.Error("api request failed",
		xlogger.String("endpoint", endpoint),
		xlogger.String("path", c.Path()),
		xlogger.Error(err))
	if errors.Is(err, repository.ErrStoreClosed) {
		err = xhttp.UnavailableError(err)
	}
	return xhttp.AppErrorResponse(c, err)
}

func (h *AnomaliesEchoHandler) Health(c echo.Context) error {
	start, endpoint := time.Now(), "health"

	res, err := h.q.Health(c.Request().Context())
	if err != nil {
		return h.fail(c, endpoint, start, xhttp.UnavailableError(err))
	}
	h.metrics.Observe(endpoint, start, nil)
	return xhttp.SuccessResponse(c, res)
}

func (h *AnomaliesEchoHandler) Stats(c echo.Context) error {
	start, endpoint := time.Now(), "stats"

	res, err := h.q.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, endpoint, start, err)
	}
	h.metrics.Observe(endpoint, start, nil)
	return xhttp.SuccessResponse(c, res)
}

func (h *AnomaliesEchoHandler) Anomalies(c echo.Context) error {
	start, endpoint := time.Now(), "anomalies"

	req := &models.AnomaliesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.q.Anomalies(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, endpoint, start, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	h.metrics.Observe(endpoint, start, nil)
	return xhttp.SuccessResponse(c, res)
}

func (h *AnomaliesEchoHandler) TopAnomalies(c echo.Context) error {
	start, endpoint := time.Now(), "anomalies_top"

	req := &models.TopAnomaliesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.q.TopAnomalies(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, endpoint, start, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	h.metrics.Observe(endpoint, start, nil)
	return xhttp.ListResponse(c, res, int64(len(res)))
}

func (h *AnomaliesEchoHandler) Klines(c echo.Context) error {
	start, endpoint := time.Now(), "klines"

	req := &models.KlinesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.q.Klines(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, endpoint, start, err)
	}
	h.metrics.Observe(endpoint, start, nil)
	return xhttp.SuccessResponse(c, res)
}
