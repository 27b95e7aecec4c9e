package repository

import (
	"context"

	"FinPulse/internal/domain/models"
)

// Store owns all persisted candle and anomaly state.
// Mutations are serialized; reads never observe partially applied rows.
type Store interface {
	UpsertCandle(ctx context.Context, c models.Candle) error
	RecentCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error)
	CandleCount(ctx context.Context, symbol string) (int, error)
	Symbols(ctx context.Context) ([]string, error)

	UpsertAnomalyResult(ctx context.Context, r models.AnomalyResult) error
	RecentAnomalyResults(ctx context.Context, interval Interval, sinceHours, limit int) ([]models.AnomalyResult, error)

	RetentionSweep(ctx context.Context, p models.RetentionPolicy) (models.SweepReport, error)
	Stats(ctx context.Context) (models.StoreStats, error)
	Health(ctx context.Context) error
	Close() error
}

// MarketData is the request/response side of the upstream provider.
type MarketData interface {
	ExchangeInfo(ctx context.Context) ([]models.ContractInfo, error)
	Tickers24h(ctx context.Context) ([]models.Ticker24h, error)
	Klines(ctx context.Context, symbol string, interval Interval, limit int) ([]models.Candle, error)
}

// MarketStream is the live multiplexed candle subscription.
type MarketStream interface {
	Connect(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan *models.Candle, <-chan error)
	Close() error
	IsConnected() bool
}

// ResultSink receives scored results after each run (events, archive).
type ResultSink interface {
	PublishResults(ctx context.Context, results []models.AnomalyResult) error
}

// CandleSink receives closed candles for long-term archival.
type CandleSink interface {
	ArchiveCandles(ctx context.Context, candles []models.Candle) error
}

type Metrics interface {
	RecordCandleWritten(source, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordIngestionState(state string)
	RecordReconnect()
	RecordUniverseSize(n int)
	RecordScoringRun(scored, anomalies, skipped int)
	RecordSweep(report models.SweepReport)
}
