// Package binance adapts the Binance USDⓈ-M futures public API to the
// MarketData and MarketStream ports.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	xhttp "FinPulse/pkg/http"
	applogger "FinPulse/pkg/logger"
	"FinPulse/pkg/retry"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	pathExchangeInfo = "/fapi/v1/exchangeInfo"
	pathTicker24h    = "/fapi/v1/ticker/24hr"
	pathKlines       = "/fapi/v1/klines"

	// maxKlinesPerRequest is the endpoint's page cap.
	maxKlinesPerRequest = 1500
)

// RESTClient implements MarketData over the public REST endpoints.
type RESTClient struct {
	baseURL string
	http    *xhttp.Client
	policy  *retry.Policy
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
	l       *applogger.Logger
}

var _ drepo.MarketData = (*RESTClient)(nil)

// RESTOption configures RESTClient.
type RESTOption func(*RESTClient)

// WithBaseURL overrides the REST host.
func WithBaseURL(u string) RESTOption {
	return func(c *RESTClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *xhttp.Client) RESTOption {
	return func(c *RESTClient) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRetryPolicy sets the retry policy applied to every call.
func WithRetryPolicy(p *retry.Policy) RESTOption {
	return func(c *RESTClient) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithRateLimit paces requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) RESTOption {
	return func(c *RESTClient) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithBreaker trips after maxFailures consecutive upstream failures and
// stays open for openTimeout.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) RESTOption {
	return func(c *RESTClient) {
		c.breaker = newBreaker("binance-rest", maxFailures, openTimeout)
	}
}

// WithRESTLogger sets the logger.
func WithRESTLogger(l *applogger.Logger) RESTOption {
	return func(c *RESTClient) {
		if l != nil {
			c.l = l
		}
	}
}

// NewRESTClient builds a client with production defaults.
func NewRESTClient(opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL: "https://fapi.binance.com",
		http:    xhttp.NewClient(xhttp.WithTimeout(15*time.Second), xhttp.WithUserAgent("finpulse/1.0")),
		policy:  retry.New(),
		limiter: rate.NewLimiter(rate.Limit(20), 5),
		breaker: newBreaker("binance-rest", 5, 30*time.Second),
		now:     time.Now,
		l:       applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(name string, maxFailures uint32, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	st := gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// a rejected request is not an outage
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *retry.StatusError
			if errors.As(err, &se) {
				return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
			}
			return false
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// get runs one logical GET through limiter, breaker and retry policy.
func (c *RESTClient) get(ctx context.Context, path string, query map[string][]string) ([]byte, error) {
	var body []byte
	attempt := 0
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			b, err := c.http.GetBytes(ctx, c.baseURL+path, query)
			if err != nil {
				return nil, err
			}
			body = b
			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return retry.Permanent(fmt.Errorf("%s: %w", path, err))
		}
		if err != nil {
			c.l.Warn("binance request failed",
				applogger.String("path", path),
				applogger.Int("attempt", attempt),
				applogger.Error(err),
			)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("binance GET %s: %w", path, err)
	}
	return body, nil
}

// ExchangeInfo lists contract metadata for all instruments.
func (c *RESTClient) ExchangeInfo(ctx context.Context) ([]models.ContractInfo, error) {
	body, err := c.get(ctx, pathExchangeInfo, nil)
	if err != nil {
		return nil, err
	}
	return ParseExchangeInfo(body)
}

// Tickers24h returns rolling 24h statistics for all instruments.
func (c *RESTClient) Tickers24h(ctx context.Context) ([]models.Ticker24h, error) {
	body, err := c.get(ctx, pathTicker24h, nil)
	if err != nil {
		return nil, err
	}
	return ParseTickers(body)
}

// Klines returns up to limit candles for symbol, oldest first.
func (c *RESTClient) Klines(ctx context.Context, symbol string, interval drepo.Interval, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}
	body, err := c.get(ctx, pathKlines, map[string][]string{
		"symbol":   {strings.ToUpper(symbol)},
		"interval": {string(interval)},
		"limit":    {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}
	return ParseKlines(symbol, body, c.now())
}

// ParseExchangeInfo decodes the exchangeInfo payload.
func ParseExchangeInfo(body []byte) ([]models.ContractInfo, error) {
	root := gjson.ParseBytes(body)
	syms := root.Get("symbols")
	if !syms.IsArray() {
		return nil, fmt.Errorf("exchangeInfo: symbols array missing")
	}
	out := make([]models.ContractInfo, 0, len(syms.Array()))
	syms.ForEach(func(_, s gjson.Result) bool {
		out = append(out, models.ContractInfo{
			Symbol:       s.Get("symbol").String(),
			ContractType: s.Get("contractType").String(),
			QuoteAsset:   s.Get("quoteAsset").String(),
			Status:       s.Get("status").String(),
		})
		return true
	})
	return out, nil
}

// ParseTickers decodes the ticker/24hr array.
func ParseTickers(body []byte) ([]models.Ticker24h, error) {
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("ticker/24hr: unexpected response format")
	}
	out := make([]models.Ticker24h, 0, len(root.Array()))
	for _, t := range root.Array() {
		out = append(out, models.Ticker24h{
			Symbol:         t.Get("symbol").String(),
			QuoteVolume:    number(t.Get("quoteVolume")),
			LastPrice:      number(t.Get("lastPrice")),
			PriceChangePct: number(t.Get("priceChangePercent")),
		})
	}
	return out, nil
}

// ParseKlines decodes a klines page. Rows are
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, ...].
func ParseKlines(symbol string, body []byte, now time.Time) ([]models.Candle, error) {
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("klines %s: unexpected response format", symbol)
	}
	rows := root.Array()
	out := make([]models.Candle, 0, len(rows))
	nowMs := now.UnixMilli()
	for i, v := range rows {
		row := v.Array()
		if len(row) < 9 {
			return nil, fmt.Errorf("klines %s: row %d has %d fields", symbol, i, len(row))
		}
		c := models.Candle{
			Symbol:      strings.ToUpper(symbol),
			OpenTime:    row[0].Int(),
			Open:        number(row[1]),
			High:        number(row[2]),
			Low:         number(row[3]),
			Close:       number(row[4]),
			Volume:      number(row[5]),
			CloseTime:   row[6].Int(),
			QuoteVolume: number(row[7]),
			TradesCount: row[8].Int(),
		}
		c.Closed = c.CloseTime < nowMs
		out = append(out, c)
	}
	return out, nil
}

// number parses a decimal string (or JSON number) exactly before narrowing to float64.
func number(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		d, err := decimal.NewFromString(r.Str)
		if err != nil {
			return 0
		}
		return d.InexactFloat64()
	default:
		return 0
	}
}
