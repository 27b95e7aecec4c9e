package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"FinPulse/internal/domain/models"
	domrepo "FinPulse/internal/domain/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T, opts ...StoreOption) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	return NewPostgresStore(db, opts...), mock
}

var candleCols = []string{"symbol", "open_time", "close_time", "open_price", "high_price", "low_price",
	"close_price", "volume", "quote_volume", "trades_count", "ingested_at"}

func TestPostgresUpsertCandle(t *testing.T) {
	s, mock := newMockPostgres(t, WithRetention(noAutoCleanup()))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO klines")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertCandle(context.Background(), candleAt("BTCUSDT", 0, 100))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertCandleRejectsInvalid(t *testing.T) {
	s, mock := newMockPostgres(t)

	err := s.UpsertCandle(context.Background(), models.Candle{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertCandleDBError(t *testing.T) {
	s, mock := newMockPostgres(t, WithRetention(noAutoCleanup()))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO klines")).
		WillReturnError(errors.New("connection refused"))

	err := s.UpsertCandle(context.Background(), candleAt("BTCUSDT", 0, 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPostgresRecentCandlesAscending(t *testing.T) {
	s, mock := newMockPostgres(t)
	ingested := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(candleCols).
		AddRow("BTCUSDT", int64(3000), int64(3999), 3.0, 3.0, 3.0, 3.0, 1.0, 1.0, int64(1), ingested).
		AddRow("BTCUSDT", int64(2000), int64(2999), 2.0, 2.0, 2.0, 2.0, 1.0, 1.0, int64(1), ingested).
		AddRow("BTCUSDT", int64(1000), int64(1999), 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, int64(1), ingested)
	mock.ExpectQuery(regexp.QuoteMeta("FROM klines WHERE symbol = $1 ORDER BY open_time DESC LIMIT $2")).
		WithArgs("BTCUSDT", 3).
		WillReturnRows(rows)

	got, err := s.RecentCandles(context.Background(), "BTCUSDT", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1000), got[0].OpenTime)
	assert.Equal(t, int64(3000), got[2].OpenTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSymbols(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT symbol FROM klines")).
		WillReturnRows(sqlmock.NewRows([]string{"symbol"}).AddRow("BTCUSDT").AddRow("ETHUSDT"))

	got, err := s.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)
}

func TestPostgresRecentAnomalyResults(t *testing.T) {
	clk := newFakeClock()
	s, mock := newMockPostgres(t, WithClock(clk.Now))

	cols := []string{"symbol", "timestamp", "interval_type", "cur_return", "cur_abs_return",
		"close_price", "cur_volume", "cur_volatility", "price_zscore", "price_percentile",
		"volume_zscore", "volatility_zscore", "price_score", "volume_score", "volatility_score",
		"anomaly_score", "anomaly_reasons", "quote_volume_24h", "is_anomaly", "created_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"BTCUSDT", clk.Now().Unix(), "15m", 0.02, 0.02,
		102.0, 5000.0, 1.5, 3.1, 99.0,
		4.2, 2.2, 1.3, 2.2, 0.2,
		1.24, "价格+成交量", 1e9, true, clk.Now(),
	)
	since := clk.Now().Add(-24 * time.Hour).Unix()
	mock.ExpectQuery(regexp.QuoteMeta("FROM anomalies")).
		WithArgs("15m", since, 20).
		WillReturnRows(rows)

	got, err := s.RecentAnomalyResults(context.Background(), domrepo.Interval15m, 24, 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []models.Reason{models.ReasonPrice, models.ReasonVolume}, got[0].Reasons)
	assert.True(t, got[0].IsAnomaly)
	assert.InDelta(t, 1.24, got[0].AnomalyScore, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertAnomalyRequiresIdentity(t *testing.T) {
	s, _ := newMockPostgres(t)
	err := s.UpsertAnomalyResult(context.Background(), models.AnomalyResult{Symbol: "BTCUSDT"})
	assert.Error(t, err)
}

func TestPostgresRetentionSweepWithVacuum(t *testing.T) {
	clk := newFakeClock()
	s, mock := newMockPostgres(t, WithClock(clk.Now), WithRetention(noAutoCleanup()))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM klines WHERE ingested_at <= $1")).
		WithArgs(clk.Now().Add(-24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 120))
	mock.ExpectExec(`DELETE FROM klines k\s+USING`).
		WithArgs(10000).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM anomalies WHERE created_at <= $1")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("VACUUM ANALYZE klines, anomalies")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rep, err := s.RetentionSweep(context.Background(), models.RetentionPolicy{
		MaxAge:           24 * time.Hour,
		MaxRowsPerSymbol: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(120), rep.Candles)
	assert.Equal(t, int64(5), rep.CandlesExcess)
	assert.Equal(t, int64(3), rep.Anomalies)
	assert.True(t, rep.Vacuumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRetentionSweepInfiniteAgeSkipsAgeDeletes(t *testing.T) {
	s, mock := newMockPostgres(t, WithRetention(noAutoCleanup()))

	mock.ExpectBegin()
	mock.ExpectCommit()

	rep, err := s.RetentionSweep(context.Background(), models.RetentionPolicy{MaxAge: -1})
	require.NoError(t, err)
	assert.Zero(t, rep.Total())
	assert.False(t, rep.Vacuumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRetentionSweepRollsBackOnError(t *testing.T) {
	s, mock := newMockPostgres(t, WithRetention(noAutoCleanup()))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM klines WHERE ingested_at")).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := s.RetentionSweep(context.Background(), models.RetentionPolicy{MaxAge: time.Hour})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertTriggersSweepOnRowCap(t *testing.T) {
	cfg := RetentionConfig{
		Policy:          models.RetentionPolicy{MaxAge: -1, MaxRowsPerSymbol: 2},
		CleanupInterval: 24 * time.Hour,
		AutoCleanup:     true,
		VacuumThreshold: 100,
	}
	s, mock := newMockPostgres(t, WithRetention(cfg))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO klines")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT symbol FROM klines GROUP BY symbol HAVING COUNT(*) > $1")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"symbol"}).AddRow("ETHUSDT"))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM klines k\s+USING`).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// ETHUSDT is over the cap; the write to BTCUSDT still triggers the sweep.
	require.NoError(t, s.UpsertCandle(context.Background(), candleAt("BTCUSDT", 2, 100)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStats(t *testing.T) {
	clk := newFakeClock()
	s, mock := newMockPostgres(t, WithClock(clk.Now))
	oldest := clk.Now().Add(-5 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT symbol)")).
		WillReturnRows(sqlmock.NewRows([]string{"symbol_count", "kline_count", "oldest_kline"}).
			AddRow(int64(2), int64(300), oldest))
	mock.ExpectQuery(regexp.QuoteMeta("anomaly_count_24h")).
		WithArgs(clk.Now().Add(-24 * time.Hour).Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"anomaly_count", "anomaly_count_24h", "oldest_anomaly"}).
			AddRow(int64(10), int64(4), nil))
	mock.ExpectQuery(regexp.QuoteMeta("pg_total_relation_size")).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(int64(8192)))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.SymbolCount)
	assert.Equal(t, int64(300), st.CandleCount)
	assert.Equal(t, int64(4), st.Anomalies24h)
	assert.Equal(t, int64(8192), st.SizeBytes)
	require.NotNil(t, st.OldestCandle)
	assert.Equal(t, oldest, *st.OldestCandle)
	assert.Nil(t, st.OldestAnomaly)
	assert.NoError(t, mock.ExpectationsWereMet())
}
