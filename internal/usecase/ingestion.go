package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	mid "FinPulse/internal/middleware"
	applogger "FinPulse/pkg/logger"
)

var (
	// ErrEmptyUniverse means selection produced no symbols; the attempt is retried later.
	ErrEmptyUniverse = errors.New("ingestion: empty universe")
	// ErrReconnectsExhausted is the only fatal ingestion error.
	ErrReconnectsExhausted = errors.New("ingestion: reconnect attempts exhausted")
)

// IngestionState is the engine's lifecycle position.
type IngestionState int32

const (
	StateIdle IngestionState = iota
	StateSelectingUniverse
	StateBackfilling
	StateStreaming
	StateDisconnected
	StateReconnecting
	StateStopped
)

func (s IngestionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelectingUniverse:
		return "selecting_universe"
	case StateBackfilling:
		return "backfilling"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Universe yields the symbols to monitor.
type Universe interface {
	Select(ctx context.Context) []string
}

// IngestionConfig controls backfill and reconnect behaviour.
type IngestionConfig struct {
	Interval          drepo.Interval
	HistoryKlines     int
	ReconnectDelay    time.Duration
	MaxReconnects     int
	StartupRetryDelay time.Duration
	// WriteTimeout bounds a single store write; it outlives shutdown cancellation.
	WriteTimeout time.Duration
}

// IngestionEngine keeps the store fed with 15m klines for the current universe.
type IngestionEngine struct {
	universe Universe
	md       drepo.MarketData
	stream   drepo.MarketStream
	store    drepo.Store
	proc     *CandleProcessor
	pipe     *mid.RealtimePipeline
	metrics  drepo.Metrics
	l        *applogger.Logger
	cfg      IngestionConfig

	state      atomic.Int32
	reconnects atomic.Int32

	mu      sync.Mutex
	symbols []string
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewIngestionEngine(
	universe Universe,
	md drepo.MarketData,
	stream drepo.MarketStream,
	store drepo.Store,
	proc *CandleProcessor,
	pipe *mid.RealtimePipeline,
	metrics drepo.Metrics,
	l *applogger.Logger,
	cfg IngestionConfig,
) *IngestionEngine {
	if l == nil {
		l = applogger.NewNop()
	}
	if cfg.Interval == "" {
		cfg.Interval = drepo.DefaultInterval()
	}
	if cfg.HistoryKlines <= 0 {
		cfg.HistoryKlines = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	e := &IngestionEngine{
		universe: universe,
		md:       md,
		stream:   stream,
		store:    store,
		proc:     proc,
		pipe:     pipe,
		metrics:  metrics,
		l:        l,
		cfg:      cfg,
	}
	e.setState(StateIdle)
	return e
}

// State returns the current lifecycle state.
func (e *IngestionEngine) State() IngestionState { return IngestionState(e.state.Load()) }

// Symbols returns the universe of the latest start attempt.
func (e *IngestionEngine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.symbols...)
}

// Reconnects returns the consecutive reconnect counter.
func (e *IngestionEngine) Reconnects() int { return int(e.reconnects.Load()) }

// IsConnected reports whether the live subscription is up.
func (e *IngestionEngine) IsConnected() bool { return e.stream.IsConnected() }

func (e *IngestionEngine) setState(s IngestionState) {
	prev := IngestionState(e.state.Swap(int32(s)))
	e.metrics.RecordIngestionState(s.String())
	if prev != s {
		e.l.Debug("ingestion state", applogger.String("from", prev.String()), applogger.String("to", s.String()))
	}
}

// Start runs one start attempt: select the universe, backfill short
// histories and open the combined subscription.
func (e *IngestionEngine) Start(ctx context.Context) error {
	e.setState(StateSelectingUniverse)
	symbols := e.universe.Select(ctx)
	if len(symbols) == 0 {
		e.setState(StateIdle)
		return ErrEmptyUniverse
	}
	e.mu.Lock()
	e.symbols = symbols
	e.mu.Unlock()

	e.setState(StateBackfilling)
	if err := e.backfill(ctx, symbols); err != nil {
		return err
	}

	if err := e.stream.Connect(ctx, symbols); err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	e.setState(StateStreaming)
	e.l.Info("ingestion streaming",
		applogger.Int("symbols", len(symbols)),
		applogger.String("interval", string(e.cfg.Interval)),
	)
	return nil
}

// backfill fetches history for symbols holding fewer than HistoryKlines rows.
// Per-symbol failures are logged and skipped.
func (e *IngestionEngine) backfill(ctx context.Context, symbols []string) error {
	filled, skipped, failed := 0, 0, 0
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.store.CandleCount(ctx, sym)
		if err != nil {
			failed++
			e.metrics.RecordError("backfill_count")
			e.l.Warn("backfill: count failed", applogger.String("symbol", sym), applogger.Error(err))
			continue
		}
		if n >= e.cfg.HistoryKlines {
			skipped++
			continue
		}
		candles, err := e.md.Klines(ctx, sym, e.cfg.Interval, e.cfg.HistoryKlines)
		if err != nil {
			failed++
			e.metrics.RecordError("backfill_fetch")
			e.l.Warn("backfill: fetch failed", applogger.String("symbol", sym), applogger.Error(err))
			continue
		}
		if _, err := e.proc.ProcessBatch(ctx, candles); err != nil {
			return err
		}
		filled++
	}
	e.l.Info("backfill done",
		applogger.Int("filled", filled),
		applogger.Int("skipped", skipped),
		applogger.Int("failed", failed),
	)
	return nil
}

// Run supervises start attempts and reconnects until ctx is cancelled,
// Shutdown is called, or reconnects are exhausted.
func (e *IngestionEngine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()
	defer close(done)
	defer cancel()

	if e.pipe != nil {
		e.pipe.Start(runCtx)
		defer e.pipe.Stop()
	}
	e.reconnects.Store(0)

	for {
		if runCtx.Err() != nil {
			e.setState(StateStopped)
			return nil
		}

		err := e.Start(runCtx)
		switch {
		case errors.Is(err, ErrEmptyUniverse):
			e.l.Warn("ingestion: empty universe, retrying",
				applogger.Duration("delay", e.cfg.StartupRetryDelay))
			if sleepCtx(runCtx, e.cfg.StartupRetryDelay) != nil {
				e.setState(StateStopped)
				return nil
			}
			continue
		case err != nil:
			if runCtx.Err() == nil {
				e.metrics.RecordError("ingestion_start")
				e.l.Error("ingestion: start attempt failed", applogger.Error(err))
			}
		default:
			if e.consume(runCtx) {
				e.reconnects.Store(0)
			}
			_ = e.stream.Close()
		}

		if runCtx.Err() != nil {
			e.setState(StateStopped)
			return nil
		}

		e.setState(StateDisconnected)
		if sleepCtx(runCtx, e.cfg.ReconnectDelay) != nil {
			e.setState(StateStopped)
			return nil
		}
		n := e.reconnects.Add(1)
		e.metrics.RecordReconnect()
		if int(n) > e.cfg.MaxReconnects {
			e.setState(StateStopped)
			e.l.Error("ingestion: giving up",
				applogger.Int("reconnects", int(n)-1),
				applogger.Int("max_reconnects", e.cfg.MaxReconnects),
			)
			return ErrReconnectsExhausted
		}
		e.setState(StateReconnecting)
		e.l.Warn("ingestion: reconnecting",
			applogger.Int("attempt", int(n)),
			applogger.Int("max_reconnects", e.cfg.MaxReconnects),
		)
	}
}

// consume pumps stream messages into the pipeline until the subscription
// ends. It reports whether at least one message arrived.
func (e *IngestionEngine) consume(ctx context.Context) bool {
	candles, errs := e.stream.Read(ctx)
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered
		case c, ok := <-candles:
			if !ok {
				select {
				case err := <-errs:
					if err != nil {
						e.metrics.RecordError("stream")
						e.l.Warn("ingestion: stream closed", applogger.Error(err))
					}
				default:
				}
				return delivered
			}
			if c == nil {
				continue
			}
			delivered = true
			e.handle(ctx, c)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				e.metrics.RecordError("stream")
				e.l.Warn("ingestion: stream error", applogger.Error(err))
				return delivered
			}
		}
	}
}

// handle writes one stream update. A write already started is allowed to
// finish when ctx is cancelled by Shutdown.
func (e *IngestionEngine) handle(ctx context.Context, c *models.Candle) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WriteTimeout)
	defer cancel()

	var err error
	if e.pipe != nil {
		err = e.pipe.Process(wctx, c)
	} else {
		err = e.proc.Process(wctx, c)
	}
	if err != nil && ctx.Err() == nil {
		e.l.Warn("ingestion: write failed",
			applogger.String("symbol", c.Symbol),
			applogger.Int64("open_time", c.OpenTime),
			applogger.Error(err),
		)
	}
}

// Shutdown stops Run, closes the subscription and waits for in-flight writes.
func (e *IngestionEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	closeErr := e.stream.Close()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("ingestion shutdown: %w", ctx.Err())
		}
	}
	e.setState(StateStopped)
	return closeErr
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
