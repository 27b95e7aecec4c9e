package binance

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	applogger "FinPulse/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// StreamClient implements MarketStream over the combined kline stream.
type StreamClient struct {
	wsURL        string
	interval     drepo.Interval
	pingInterval time.Duration
	dialer       *websocket.Dialer
	l            *applogger.Logger
	metrics      drepo.Metrics

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	malformed atomic.Int64
}

var _ drepo.MarketStream = (*StreamClient)(nil)

// StreamOption configures StreamClient.
type StreamOption func(*StreamClient)

// WithStreamURL overrides the combined stream endpoint.
func WithStreamURL(u string) StreamOption {
	return func(c *StreamClient) { c.wsURL = u }
}

// WithPingInterval sets the keep-alive period.
func WithPingInterval(d time.Duration) StreamOption {
	return func(c *StreamClient) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithStreamLogger sets the logger.
func WithStreamLogger(l *applogger.Logger) StreamOption {
	return func(c *StreamClient) {
		if l != nil {
			c.l = l
		}
	}
}

// WithStreamMetrics counts malformed frames.
func WithStreamMetrics(m drepo.Metrics) StreamOption {
	return func(c *StreamClient) { c.metrics = m }
}

// NewStreamClient creates a kline stream for the given bucket width.
func NewStreamClient(interval drepo.Interval, opts ...StreamOption) *StreamClient {
	c := &StreamClient{
		wsURL:        "wss://fstream.binance.com/stream",
		interval:     interval,
		pingInterval: 30 * time.Second,
		dialer:       websocket.DefaultDialer,
		l:            applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamURL builds the combined stream URL for symbols.
func StreamURL(base string, symbols []string, interval drepo.Interval) (string, error) {
	if len(symbols) == 0 {
		return "", fmt.Errorf("no symbols to subscribe")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@kline_" + string(interval)
	}
	// '/' and '@' must stay literal
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// Connect dials one combined subscription for all symbols.
func (c *StreamClient) Connect(ctx context.Context, symbols []string) error {
	u, err := StreamURL(c.wsURL, symbols, c.interval)
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("binance stream connect: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.l.Info("binance stream connected",
		applogger.Int("streams", len(symbols)),
		applogger.String("interval", string(c.interval)),
	)
	return nil
}

// Read streams candle updates until the connection fails or ctx is done.
// The error channel carries at most one terminal error.
func (c *StreamClient) Read(ctx context.Context) (<-chan *models.Candle, <-chan error) {
	candles := make(chan *models.Candle, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		errs <- fmt.Errorf("binance stream not connected")
		close(candles)
		close(errs)
		return candles, errs
	}

	done := make(chan struct{})

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					c.l.Warn("binance stream ping failed", applogger.Error(err))
				}
			}
		}
	}()

	// unblock ReadMessage on cancellation
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	// read loop
	go func() {
		defer close(candles)
		defer close(errs)
		defer close(done)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				c.connected.Store(false)
				if ctx.Err() == nil {
					errs <- fmt.Errorf("binance stream read: %w", err)
				}
				return
			}
			candle, ok, err := ParseKlineEvent(b)
			if err != nil {
				c.malformed.Add(1)
				if c.metrics != nil {
					c.metrics.RecordError("stream_malformed")
				}
				c.l.Debug("binance stream malformed frame", applogger.Error(err))
				continue
			}
			if !ok {
				// non-kline frames
				continue
			}
			select {
			case candles <- candle:
			case <-ctx.Done():
				return
			}
		}
	}()

	return candles, errs
}

// Malformed returns the number of frames that failed to decode.
func (c *StreamClient) Malformed() int64 { return c.malformed.Load() }

// Close closes the connection. Safe to call more than once.
func (c *StreamClient) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected indicates status.
func (c *StreamClient) IsConnected() bool { return c.connected.Load() }

// ParseKlineEvent decodes one combined-stream frame.
// ok is false for valid frames that are not kline events.
func ParseKlineEvent(b []byte) (*models.Candle, bool, error) {
	if !gjson.ValidBytes(b) {
		return nil, false, fmt.Errorf("invalid json")
	}
	root := gjson.ParseBytes(b)
	data := root.Get("data")
	if !data.Exists() {
		// raw (non-combined) stream payload
		data = root
	}
	if data.Get("e").String() != "kline" {
		return nil, false, nil
	}
	k := data.Get("k")
	if !k.IsObject() {
		return nil, false, fmt.Errorf("kline payload missing")
	}
	c := &models.Candle{
		Symbol:      strings.ToUpper(k.Get("s").String()),
		OpenTime:    k.Get("t").Int(),
		CloseTime:   k.Get("T").Int(),
		Open:        number(k.Get("o")),
		High:        number(k.Get("h")),
		Low:         number(k.Get("l")),
		Close:       number(k.Get("c")),
		Volume:      number(k.Get("v")),
		QuoteVolume: number(k.Get("q")),
		TradesCount: k.Get("n").Int(),
		Closed:      k.Get("x").Bool(),
	}
	if c.Symbol == "" || c.OpenTime <= 0 {
		return nil, false, fmt.Errorf("kline event missing symbol or open time")
	}
	return c, true, nil
}
