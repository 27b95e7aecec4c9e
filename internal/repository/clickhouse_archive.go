package repository

import (
	"context"
	"fmt"
	"time"

	"FinPulse/internal/domain/models"
	pkgch "FinPulse/pkg/clickhouse"
	applogger "FinPulse/pkg/logger"
)

var candleArchiveColumns = []string{
	"symbol", "open_time", "close_time",
	"open", "high", "low", "close",
	"volume", "quote_volume", "trades_count", "ingested_at",
}

var anomalyArchiveColumns = []string{
	"symbol", "ts", "interval_type",
	"cur_return", "close_price", "cur_volume", "cur_volatility",
	"price_zscore", "price_percentile", "volume_zscore", "volatility_zscore",
	"price_score", "volume_score", "volatility_score", "anomaly_score",
	"reasons", "quote_volume_24h", "is_anomaly", "created_at",
}

// ClickHouseArchive appends closed candles and scored results to ClickHouse
// for long-range analysis. Both tables deduplicate on their natural key.
type ClickHouseArchive struct {
	client         *pkgch.Client
	candlesTable   string
	anomaliesTable string
	chunk          int
	l              *applogger.Logger
}

func NewClickHouseArchive(client *pkgch.Client, candlesTable, anomaliesTable string, l *applogger.Logger) *ClickHouseArchive {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ClickHouseArchive{
		client:         client,
		candlesTable:   candlesTable,
		anomaliesTable: anomaliesTable,
		chunk:          pkgch.DefaultChunkSize,
		l:              l,
	}
}

// Schema returns the DDL for the archive tables.
func (a *ClickHouseArchive) Schema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    open_time DateTime64(3, 'UTC'),
    close_time DateTime64(3, 'UTC'),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64,
    quote_volume Float64,
    trades_count Int64,
    ingested_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(ingested_at)
PARTITION BY toYYYYMM(open_time)
ORDER BY (symbol, open_time)`, a.candlesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    ts DateTime('UTC'),
    interval_type LowCardinality(String),
    cur_return Float64,
    close_price Float64,
    cur_volume Float64,
    cur_volatility Float64,
    price_zscore Float64,
    price_percentile Float64,
    volume_zscore Float64,
    volatility_zscore Float64,
    price_score Float64,
    volume_score Float64,
    volatility_score Float64,
    anomaly_score Float64,
    reasons String,
    quote_volume_24h Float64,
    is_anomaly UInt8,
    created_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(created_at)
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, interval_type, ts)`, a.anomaliesTable),
	}
}

// ArchiveCandles implements CandleSink.
func (a *ClickHouseArchive) ArchiveCandles(ctx context.Context, candles []models.Candle) error {
	rows := make([][]any, 0, len(candles))
	now := time.Now().UTC()
	for _, c := range candles {
		if c.Symbol == "" || c.OpenTime <= 0 {
			continue
		}
		ingested := c.IngestedAt
		if ingested.IsZero() {
			ingested = now
		}
		rows = append(rows, []any{
			c.Symbol,
			time.UnixMilli(c.OpenTime).UTC(),
			time.UnixMilli(c.CloseTime).UTC(),
			c.Open, c.High, c.Low, c.Close,
			c.Volume, c.QuoteVolume, c.TradesCount,
			ingested,
		})
	}
	if err := a.client.InsertRows(ctx, a.candlesTable, candleArchiveColumns, rows, a.chunk); err != nil {
		return fmt.Errorf("archive candles: %w", err)
	}
	return nil
}

// PublishResults implements ResultSink.
func (a *ClickHouseArchive) PublishResults(ctx context.Context, results []models.AnomalyResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		if r.Symbol == "" {
			continue
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		var flag uint8
		if r.IsAnomaly {
			flag = 1
		}
		rows = append(rows, []any{
			r.Symbol, time.Unix(r.Timestamp, 0).UTC(), r.IntervalType,
			r.CurReturn, r.ClosePrice, r.CurVolume, r.CurVolatility,
			r.PriceZScore, r.PricePercentile, r.VolumeZScore, r.VolatilityZScore,
			r.PriceScore, r.VolumeScore, r.VolatilityScore, r.AnomalyScore,
			r.ReasonsString(), r.QuoteVolume24h, flag, created,
		})
	}
	if err := a.client.InsertRows(ctx, a.anomaliesTable, anomalyArchiveColumns, rows, a.chunk); err != nil {
		return fmt.Errorf("archive results: %w", err)
	}
	a.l.Debug("archived results", applogger.Int("rows", len(rows)))
	return nil
}
