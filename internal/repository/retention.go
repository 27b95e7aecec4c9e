package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinPulse/internal/domain/models"
	domrepo "FinPulse/internal/domain/repository"
	applogger "FinPulse/pkg/logger"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store closed")

// RetentionConfig controls automatic sweeps run after writes.
type RetentionConfig struct {
	Policy          models.RetentionPolicy
	CleanupInterval time.Duration
	AutoCleanup     bool
	// A sweep deleting more rows than this reclaims space afterwards.
	VacuumThreshold int64
}

// DefaultRetention mirrors the collector's stock settings.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		Policy: models.RetentionPolicy{
			MaxAge:            24 * time.Hour,
			MaxRowsPerSymbol:  10000,
			MaxStoreSizeBytes: 100 * 1024 * 1024,
		},
		CleanupInterval: time.Hour,
		AutoCleanup:     true,
		VacuumThreshold: 100,
	}
}

// StoreOption configures both store implementations.
type StoreOption func(*storeOptions)

type storeOptions struct {
	retention RetentionConfig
	now       func() time.Time
	logger    *applogger.Logger
	metrics   domrepo.Metrics
	timeout   time.Duration
}

func newStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{
		retention: DefaultRetention(),
		now:       time.Now,
		logger:    applogger.NewNop(),
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRetention sets the retention configuration.
func WithRetention(r RetentionConfig) StoreOption {
	return func(o *storeOptions) { o.retention = r }
}

// WithClock overrides the wall clock used for ingestion and retention.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStoreLogger sets the structured logger.
func WithStoreLogger(l *applogger.Logger) StoreOption {
	return func(o *storeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStoreMetrics sets the metrics recorder.
func WithStoreMetrics(m domrepo.Metrics) StoreOption {
	return func(o *storeOptions) { o.metrics = m }
}

// WithQueryTimeout bounds each database round-trip.
func WithQueryTimeout(d time.Duration) StoreOption {
	return func(o *storeOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// retentionProbe is what the trigger needs to know about a store.
type retentionProbe interface {
	sizeBytes(ctx context.Context) (int64, error)
	// overRowCap returns a symbol holding more than limit candles, or "".
	overRowCap(ctx context.Context, limit int) (string, error)
	sweepLocked(ctx context.Context, p models.RetentionPolicy) (models.SweepReport, error)
}

// retentionTrigger decides, after each write, whether a sweep is due.
// Callers hold the store's write mutex.
type retentionTrigger struct {
	cfg       RetentionConfig
	now       func() time.Time
	l         *applogger.Logger
	metrics   domrepo.Metrics
	mu        sync.Mutex
	lastSweep time.Time
}

func newRetentionTrigger(o storeOptions) *retentionTrigger {
	return &retentionTrigger{cfg: o.retention, now: o.now, l: o.logger, metrics: o.metrics}
}

// due returns the reason a sweep should run, or "" if none.
func (t *retentionTrigger) due(ctx context.Context, p retentionProbe) string {
	if !t.cfg.AutoCleanup {
		return ""
	}
	t.mu.Lock()
	last := t.lastSweep
	t.mu.Unlock()
	if t.now().Sub(last) >= t.cfg.CleanupInterval {
		return "interval"
	}
	if limit := t.cfg.Policy.MaxStoreSizeBytes; limit > 0 {
		size, err := p.sizeBytes(ctx)
		if err != nil {
			t.l.Warn("retention size probe failed", applogger.Error(err))
		} else if size > limit {
			t.l.Warn("store size over cap, sweeping",
				applogger.Int64("size_bytes", size),
				applogger.Int64("cap_bytes", limit),
			)
			return "size"
		}
	}
	if limit := t.cfg.Policy.MaxRowsPerSymbol; limit > 0 {
		symbol, err := p.overRowCap(ctx, limit)
		if err != nil {
			t.l.Warn("retention row probe failed", applogger.Error(err))
		} else if symbol != "" {
			t.l.Warn("symbol over row cap, sweeping",
				applogger.String("symbol", symbol),
				applogger.Int("cap", limit),
			)
			return "row_cap"
		}
	}
	return ""
}

// maybeSweep runs a sweep when one is due. Failures are logged only:
// the write that triggered the check has already committed.
// The row cap is checked across all symbols, not just the one written.
func (t *retentionTrigger) maybeSweep(ctx context.Context, p retentionProbe) {
	reason := t.due(ctx, p)
	if reason == "" {
		return
	}
	t.run(ctx, p, reason)
}

func (t *retentionTrigger) run(ctx context.Context, p retentionProbe, reason string) (models.SweepReport, error) {
	start := t.now()
	rep, err := p.sweepLocked(ctx, t.cfg.Policy)
	t.mark()
	if err != nil {
		t.l.Error("retention sweep failed", applogger.String("reason", reason), applogger.Error(err))
		if t.metrics != nil {
			t.metrics.RecordError("retention_sweep")
		}
		return rep, err
	}
	if t.metrics != nil {
		t.metrics.RecordSweep(rep)
	}
	if rep.Total() > 0 {
		t.l.Info("retention sweep done",
			applogger.String("reason", reason),
			applogger.Int64("klines", rep.Candles),
			applogger.Int64("klines_excess", rep.CandlesExcess),
			applogger.Int64("anomalies", rep.Anomalies),
			applogger.Bool("vacuumed", rep.Vacuumed),
			applogger.Duration("duration_ms", t.now().Sub(start)),
		)
	}
	return rep, nil
}

func (t *retentionTrigger) mark() {
	t.mu.Lock()
	t.lastSweep = t.now()
	t.mu.Unlock()
}

// shouldVacuum applies the bulk-delete threshold.
func (t *retentionTrigger) shouldVacuum(rep models.SweepReport) bool {
	return rep.Total() > t.cfg.VacuumThreshold
}

// ageCutoff returns the ingestion-time cutoff, or false when age deletion is off.
// A row is expired when its age is at least MaxAge, so MaxAge=0 expires everything.
func ageCutoff(now time.Time, p models.RetentionPolicy) (time.Time, bool) {
	if p.MaxAge < 0 {
		return time.Time{}, false
	}
	return now.Add(-p.MaxAge), true
}
