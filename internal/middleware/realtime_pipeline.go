package middleware

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"FinPulse/internal/domain/models"
	domrepo "FinPulse/internal/domain/repository"
	"FinPulse/internal/service/ratelimit"
	applogger "FinPulse/pkg/logger"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, c *models.Candle) error
}

// RealtimePipeline sits between the market stream and the store writer.
// It validates, throttles in-progress updates and buffers when downstream fails.
// Closed candles are never throttled. Writes for one (symbol, open_time)
// reach downstream in arrival order: a buffered retry is discarded once a
// newer update for the same candle is written or buffered.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	l       *applogger.Logger
	limiter *ratelimit.Limiter
	maxRPS  int
	bufSize int

	// writeMu serializes downstream writes and every change to the buffers.
	writeMu sync.Mutex
	bufMu   sync.Mutex
	pending map[candleKey]*list.Element
	order   *list.List
	// latest throttled update per symbol, written when the limiter allows
	deferred map[string]*models.Candle

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	retryMin     time.Duration
	retryMax     time.Duration
	drainTimeout time.Duration
}

type candleKey struct {
	symbol   string
	openTime int64
}

func keyOf(c *models.Candle) candleKey { return candleKey{c.Symbol, c.OpenTime} }

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max in-progress updates per second per symbol.
// Zero or less disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) { p.maxRPS = n }
}

// WithBufferSize sets the retry buffer size used when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithLimiter shares a token bucket limiter.
func WithLimiter(l *ratelimit.Limiter) PipelineOption {
	return func(p *RealtimePipeline) {
		if l != nil {
			p.limiter = l
		}
	}
}

// WithRetryBackoff sets the flush backoff bounds.
func WithRetryBackoff(min, max time.Duration) PipelineOption {
	return func(p *RealtimePipeline) {
		if min > 0 && max >= min {
			p.retryMin, p.retryMax = min, max
		}
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *RealtimePipeline) {
		if l != nil {
			p.l = l
		}
	}
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:         proc,
		metrics:      metrics,
		l:            applogger.NewNop(),
		limiter:      ratelimit.New(),
		maxRPS:       2,
		bufSize:      2000,
		pending:      make(map[candleKey]*list.Element),
		order:        list.New(),
		deferred:     make(map[string]*models.Candle),
		stopCh:       make(chan struct{}),
		retryMin:     50 * time.Millisecond,
		retryMax:     2 * time.Second,
		drainTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches background flushing of throttled and buffered candles.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	stop := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, stop)
}

func (p *RealtimePipeline) run(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()
	tick := time.NewTicker(p.retryMin)
	defer tick.Stop()

	backoff := p.retryMin
	var retryAt time.Time
	for {
		select {
		case <-stop:
			p.drain(ctx)
			return
		case <-ctx.Done():
			p.drain(ctx)
			return
		case <-tick.C:
		}
		p.flushDeferred(ctx, true)
		if time.Now().Before(retryAt) {
			continue
		}
		if p.flushRetries(ctx) {
			backoff = p.retryMin
			retryAt = time.Time{}
			continue
		}
		p.metrics.RecordError("pipeline_flush")
		retryAt = time.Now().Add(backoff)
		backoff *= 2
		if backoff > p.retryMax {
			backoff = p.retryMax
		}
	}
}

// drain makes one last pass over both buffers, ignoring the limiter.
func (p *RealtimePipeline) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.drainTimeout)
	defer cancel()
	p.flushDeferred(dctx, false)
	if !p.flushRetries(dctx) {
		p.l.Warn("pipeline stopped with unflushed candles", applogger.Int("pending", p.Pending()))
	}
}

// Stop stops the background flushing and waits for it to exit.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()

	p.mu.Lock()
	p.stopCh = make(chan struct{})
	p.mu.Unlock()
}

// Pending returns the number of buffered candles awaiting retry.
func (p *RealtimePipeline) Pending() int {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return p.order.Len()
}

// Deferred returns the number of symbols with a throttled update not yet written.
func (p *RealtimePipeline) Deferred() int {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return len(p.deferred)
}

// Process validates, throttles and forwards a candle, buffering on errors.
func (p *RealtimePipeline) Process(ctx context.Context, c *models.Candle) error {
	start := time.Now()
	if err := c.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !c.Closed && !p.allow(c.Symbol) {
		p.coalesce(c)
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	p.writeMu.Lock()
	err := p.write(ctx, c)
	p.writeMu.Unlock()
	if err != nil {
		p.metrics.RecordError("pipeline_process")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// coalesce keeps c as the symbol's pending throttled update.
func (p *RealtimePipeline) coalesce(c *models.Candle) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	if cur, ok := p.deferred[c.Symbol]; ok && cur.OpenTime > c.OpenTime {
		return
	}
	p.deferred[c.Symbol] = c
	p.removeLocked(keyOf(c))
}

// write sends c downstream and buffers it on failure. Older buffered
// versions of the same candle are dropped first. Callers hold writeMu.
func (p *RealtimePipeline) write(ctx context.Context, c *models.Candle) error {
	p.bufMu.Lock()
	p.removeLocked(keyOf(c))
	if d, ok := p.deferred[c.Symbol]; ok && d != c && d.OpenTime == c.OpenTime {
		delete(p.deferred, c.Symbol)
	}
	p.bufMu.Unlock()

	if err := p.proc.Process(ctx, c); err != nil {
		p.enqueue(c)
		return err
	}
	return nil
}

func (p *RealtimePipeline) enqueue(c *models.Candle) {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	k := keyOf(c)
	if el, ok := p.pending[k]; ok {
		el.Value = c
		return
	}
	if p.order.Len() >= p.bufSize {
		p.metrics.RecordError("pipeline_buffer_full")
		p.l.Warn("pipeline buffer full, dropping candle",
			applogger.String("symbol", c.Symbol),
			applogger.Int64("open_time", c.OpenTime),
		)
		return
	}
	p.pending[k] = p.order.PushBack(c)
}

func (p *RealtimePipeline) removeLocked(k candleKey) {
	if el, ok := p.pending[k]; ok {
		p.order.Remove(el)
		delete(p.pending, k)
	}
}

// flushDeferred writes throttled updates, consulting the limiter when limited is set.
func (p *RealtimePipeline) flushDeferred(ctx context.Context, limited bool) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.bufMu.Lock()
	due := make([]*models.Candle, 0, len(p.deferred))
	for sym, c := range p.deferred {
		if limited && !p.allow(sym) {
			continue
		}
		due = append(due, c)
		delete(p.deferred, sym)
	}
	p.bufMu.Unlock()

	for _, c := range due {
		if err := p.write(ctx, c); err != nil {
			p.metrics.RecordError("pipeline_deferred")
		}
	}
}

// flushRetries retries buffered candles oldest first and stops at the first
// failure, which goes back into the buffer. It reports whether the buffer emptied.
func (p *RealtimePipeline) flushRetries(ctx context.Context) bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for {
		p.bufMu.Lock()
		front := p.order.Front()
		if front == nil {
			p.bufMu.Unlock()
			return true
		}
		c := front.Value.(*models.Candle)
		p.bufMu.Unlock()

		if err := p.write(ctx, c); err != nil {
			return false
		}
	}
}

func (p *RealtimePipeline) allow(symbol string) bool {
	if p.maxRPS <= 0 {
		return true
	}
	return p.limiter.Allow(symbol, float64(p.maxRPS), float64(p.maxRPS))
}
