package usecase

import (
	"context"
	"fmt"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	applogger "FinPulse/pkg/logger"
)

const (
	SourceStream   = "stream"
	SourceBackfill = "backfill"
)

// CandleProcessor writes candles to the store and forwards closed ones to the archive.
type CandleProcessor struct {
	store   drepo.Store
	archive drepo.CandleSink
	metrics drepo.Metrics
	l       *applogger.Logger
}

// NewCandleProcessor creates a new CandleProcessor. archive may be nil.
func NewCandleProcessor(store drepo.Store, archive drepo.CandleSink, metrics drepo.Metrics, l *applogger.Logger) *CandleProcessor {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CandleProcessor{store: store, archive: archive, metrics: metrics, l: l}
}

// Process stores one live update.
func (p *CandleProcessor) Process(ctx context.Context, c *models.Candle) error {
	if c == nil {
		return fmt.Errorf("candle is nil")
	}
	start := time.Now()
	if err := p.store.UpsertCandle(ctx, *c); err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process candle: %w", err)
	}
	p.metrics.RecordCandleWritten(SourceStream, c.Symbol)
	p.metrics.RecordLastPrice(c.Symbol, c.Close)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())

	if c.Closed {
		p.archiveClosed(ctx, []models.Candle{*c})
	}
	return nil
}

// ProcessBatch stores candles one by one and returns how many were written.
// A failing row is logged and skipped.
func (p *CandleProcessor) ProcessBatch(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	start := time.Now()
	written := 0
	closed := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := p.store.UpsertCandle(ctx, c); err != nil {
			p.metrics.RecordError("process_batch")
			p.l.Warn("backfill upsert failed",
				applogger.String("symbol", c.Symbol),
				applogger.Int64("open_time", c.OpenTime),
				applogger.Error(err),
			)
			continue
		}
		written++
		p.metrics.RecordCandleWritten(SourceBackfill, c.Symbol)
		if c.Closed {
			closed = append(closed, c)
		}
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	p.archiveClosed(ctx, closed)
	return written, nil
}

func (p *CandleProcessor) archiveClosed(ctx context.Context, closed []models.Candle) {
	if p.archive == nil || len(closed) == 0 {
		return
	}
	if err := p.archive.ArchiveCandles(ctx, closed); err != nil {
		p.metrics.RecordError("archive")
		p.l.Warn("kline archive failed",
			applogger.Int("count", len(closed)),
			applogger.Error(err),
		)
	}
}
