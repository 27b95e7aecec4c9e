package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	domsvc "FinPulse/internal/domain/service"
	applogger "FinPulse/pkg/logger"

	"github.com/google/uuid"
)

// ScoringConfig controls the periodic scoring loop.
type ScoringConfig struct {
	Interval time.Duration
	Window   int
}

// RunReport summarises one scoring pass.
type RunReport struct {
	RunID     string
	Symbols   int
	Scored    int
	Anomalies int
	Failed    int
	Skipped   map[string]int
	Results   []models.AnomalyResult
	Duration  time.Duration
}

// SkippedTotal returns the number of symbols that produced no result.
func (r RunReport) SkippedTotal() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

// ScoringEngine periodically scores the latest bucket of every stored symbol.
type ScoringEngine struct {
	store   drepo.Store
	scorer  domsvc.AnomalyScorer
	volumes VolumeSource
	sink    drepo.ResultSink
	metrics drepo.Metrics
	l       *applogger.Logger
	cfg     ScoringConfig

	runMu sync.Mutex
}

// NewScoringEngine creates a ScoringEngine. volumes and sink may be nil.
func NewScoringEngine(
	store drepo.Store,
	scorer domsvc.AnomalyScorer,
	volumes VolumeSource,
	sink drepo.ResultSink,
	metrics drepo.Metrics,
	l *applogger.Logger,
	cfg ScoringConfig,
) *ScoringEngine {
	if l == nil {
		l = applogger.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 150
	}
	return &ScoringEngine{
		store:   store,
		scorer:  scorer,
		volumes: volumes,
		sink:    sink,
		metrics: metrics,
		l:       l,
		cfg:     cfg,
	}
}

// RunOnce scores every symbol with stored history. Only a failure to list
// symbols fails the run; per-symbol errors are logged and skipped.
func (e *ScoringEngine) RunOnce(ctx context.Context) (RunReport, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	start := time.Now()
	rep := RunReport{RunID: uuid.NewString(), Skipped: map[string]int{}}
	l := e.l.With(applogger.String("run_id", rep.RunID))

	symbols, err := e.store.Symbols(ctx)
	if err != nil {
		e.metrics.RecordError("scoring_symbols")
		return rep, fmt.Errorf("list symbols: %w", err)
	}
	rep.Symbols = len(symbols)

	var volumes map[string]float64
	if e.volumes != nil && len(symbols) > 0 {
		volumes = e.volumes.QuoteVolumes(ctx)
	}

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		candles, err := e.store.RecentCandles(ctx, sym, e.cfg.Window)
		if err != nil {
			rep.Failed++
			e.metrics.RecordError("scoring_read")
			l.Warn("scoring: read failed", applogger.String("symbol", sym), applogger.Error(err))
			continue
		}

		res, skip := e.scorer.Score(sym, candles, volumes[sym])
		if skip != domsvc.SkipNone {
			rep.Skipped[skip.String()]++
			continue
		}

		if err := e.store.UpsertAnomalyResult(ctx, res); err != nil {
			rep.Failed++
			e.metrics.RecordError("scoring_write")
			l.Warn("scoring: write failed", applogger.String("symbol", sym), applogger.Error(err))
			continue
		}
		rep.Scored++
		rep.Results = append(rep.Results, res)
		if res.IsAnomaly {
			rep.Anomalies++
			l.Info("anomaly detected",
				applogger.String("symbol", sym),
				applogger.String("reasons", res.ReasonsString()),
				applogger.Float64("score", res.AnomalyScore),
				applogger.Float64("return", res.CurReturn),
			)
		}
	}

	if e.sink != nil && len(rep.Results) > 0 {
		if err := e.sink.PublishResults(ctx, rep.Results); err != nil {
			e.metrics.RecordError("scoring_sink")
			l.Warn("scoring: result sink failed", applogger.Int("results", len(rep.Results)), applogger.Error(err))
		}
	}

	rep.Duration = time.Since(start)
	e.metrics.RecordScoringRun(rep.Scored, rep.Anomalies, rep.SkippedTotal())
	e.metrics.RecordLatency("scoring_run", rep.Duration.Seconds())
	l.Info("scoring run done",
		applogger.Int("symbols", rep.Symbols),
		applogger.Int("scored", rep.Scored),
		applogger.Int("anomalies", rep.Anomalies),
		applogger.Int("skipped", rep.SkippedTotal()),
		applogger.Int("failed", rep.Failed),
		applogger.Duration("took", rep.Duration),
	)
	return rep, nil
}

// Run scores immediately and then on every tick until ctx is cancelled.
// Ticks that arrive during a run are dropped.
func (e *ScoringEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
			e.l.Error("scoring run failed", applogger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
