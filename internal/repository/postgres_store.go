package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"FinPulse/internal/domain/models"
	domrepo "FinPulse/internal/domain/repository"
	applogger "FinPulse/pkg/logger"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds connection settings for OpenPostgres.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SchemaStatements creates the two tables and their indexes (idempotent).
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS klines (
		symbol        TEXT             NOT NULL,
		open_time     BIGINT           NOT NULL,
		close_time    BIGINT           NOT NULL,
		open_price    DOUBLE PRECISION NOT NULL,
		high_price    DOUBLE PRECISION NOT NULL,
		low_price     DOUBLE PRECISION NOT NULL,
		close_price   DOUBLE PRECISION NOT NULL,
		volume        DOUBLE PRECISION NOT NULL,
		quote_volume  DOUBLE PRECISION NOT NULL,
		trades_count  BIGINT           NOT NULL,
		ingested_at   TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
		PRIMARY KEY (symbol, open_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_klines_ingested_at ON klines (ingested_at)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		symbol            TEXT             NOT NULL,
		timestamp         BIGINT           NOT NULL,
		interval_type     TEXT             NOT NULL,
		cur_return        DOUBLE PRECISION NOT NULL,
		cur_abs_return    DOUBLE PRECISION NOT NULL,
		close_price       DOUBLE PRECISION NOT NULL,
		cur_volume        DOUBLE PRECISION NOT NULL,
		cur_volatility    DOUBLE PRECISION NOT NULL,
		price_zscore      DOUBLE PRECISION NOT NULL,
		price_percentile  DOUBLE PRECISION NOT NULL,
		volume_zscore     DOUBLE PRECISION NOT NULL,
		volatility_zscore DOUBLE PRECISION NOT NULL,
		price_score       DOUBLE PRECISION NOT NULL,
		volume_score      DOUBLE PRECISION NOT NULL,
		volatility_score  DOUBLE PRECISION NOT NULL,
		anomaly_score     DOUBLE PRECISION NOT NULL,
		anomaly_reasons   TEXT             NOT NULL,
		quote_volume_24h  DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_anomaly        BOOLEAN          NOT NULL,
		created_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
		PRIMARY KEY (symbol, timestamp, interval_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_score ON anomalies (anomaly_score DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_timestamp ON anomalies (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_created_at ON anomalies (created_at)`,
}

const (
	upsertCandleSQL = `
		INSERT INTO klines (symbol, open_time, close_time, open_price, high_price, low_price,
			close_price, volume, quote_volume, trades_count, ingested_at)
		VALUES (:symbol, :open_time, :close_time, :open_price, :high_price, :low_price,
			:close_price, :volume, :quote_volume, :trades_count, :ingested_at)
		ON CONFLICT (symbol, open_time) DO UPDATE SET
			close_time = EXCLUDED.close_time,
			open_price = EXCLUDED.open_price,
			high_price = EXCLUDED.high_price,
			low_price = EXCLUDED.low_price,
			close_price = EXCLUDED.close_price,
			volume = EXCLUDED.volume,
			quote_volume = EXCLUDED.quote_volume,
			trades_count = EXCLUDED.trades_count,
			ingested_at = EXCLUDED.ingested_at`

	upsertAnomalySQL = `
		INSERT INTO anomalies (symbol, timestamp, interval_type, cur_return, cur_abs_return,
			close_price, cur_volume, cur_volatility, price_zscore, price_percentile,
			volume_zscore, volatility_zscore, price_score, volume_score, volatility_score,
			anomaly_score, anomaly_reasons, quote_volume_24h, is_anomaly, created_at)
		VALUES (:symbol, :timestamp, :interval_type, :cur_return, :cur_abs_return,
			:close_price, :cur_volume, :cur_volatility, :price_zscore, :price_percentile,
			:volume_zscore, :volatility_zscore, :price_score, :volume_score, :volatility_score,
			:anomaly_score, :anomaly_reasons, :quote_volume_24h, :is_anomaly, :created_at)
		ON CONFLICT (symbol, timestamp, interval_type) DO UPDATE SET
			cur_return = EXCLUDED.cur_return,
			cur_abs_return = EXCLUDED.cur_abs_return,
			close_price = EXCLUDED.close_price,
			cur_volume = EXCLUDED.cur_volume,
			cur_volatility = EXCLUDED.cur_volatility,
			price_zscore = EXCLUDED.price_zscore,
			price_percentile = EXCLUDED.price_percentile,
			volume_zscore = EXCLUDED.volume_zscore,
			volatility_zscore = EXCLUDED.volatility_zscore,
			price_score = EXCLUDED.price_score,
			volume_score = EXCLUDED.volume_score,
			volatility_score = EXCLUDED.volatility_score,
			anomaly_score = EXCLUDED.anomaly_score,
			anomaly_reasons = EXCLUDED.anomaly_reasons,
			quote_volume_24h = EXCLUDED.quote_volume_24h,
			is_anomaly = EXCLUDED.is_anomaly,
			created_at = EXCLUDED.created_at`

	candleColumns = `symbol, open_time, close_time, open_price, high_price, low_price,
		close_price, volume, quote_volume, trades_count, ingested_at`

	anomalyColumns = `symbol, timestamp, interval_type, cur_return, cur_abs_return,
		close_price, cur_volume, cur_volatility, price_zscore, price_percentile,
		volume_zscore, volatility_zscore, price_score, volume_score, volatility_score,
		anomaly_score, anomaly_reasons, quote_volume_24h, is_anomaly, created_at`

	deleteExcessCandlesSQL = `
		DELETE FROM klines k
		USING (
			SELECT symbol, open_time,
				ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY open_time DESC) AS rn
			FROM klines
		) r
		WHERE k.symbol = r.symbol AND k.open_time = r.open_time AND r.rn > $1`
)

// anomalyRow flattens reason tags into their persisted column.
type anomalyRow struct {
	models.AnomalyResult
	AnomalyReasons string `db:"anomaly_reasons"`
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db      *sqlx.DB
	writeMu sync.Mutex
	opts    storeOptions
	trigger *retentionTrigger
	l       *applogger.Logger
}

var _ domrepo.Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection. Schema is not touched.
func NewPostgresStore(db *sqlx.DB, opts ...StoreOption) *PostgresStore {
	o := newStoreOptions(opts)
	s := &PostgresStore{db: db, opts: o, trigger: newRetentionTrigger(o), l: o.logger}
	s.trigger.mark()
	return s
}

// OpenPostgres connects, ensures the schema and runs the startup sweep.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, opts ...StoreOption) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := NewPostgresStore(db, opts...)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if s.opts.retention.AutoCleanup {
		s.writeMu.Lock()
		_, _ = s.trigger.run(ctx, s, "startup")
		s.writeMu.Unlock()
	}
	return s, nil
}

// InitSchema ensures tables and indexes exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// DB returns the underlying connection (for migrations, etc.).
func (s *PostgresStore) DB() *sqlx.DB { return s.db }

func (s *PostgresStore) UpsertCandle(ctx context.Context, c models.Candle) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	if c.IngestedAt.IsZero() {
		c.IngestedAt = s.opts.now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	if _, err := s.db.NamedExecContext(qctx, upsertCandleSQL, c); err != nil {
		return fmt.Errorf("upsert candle %s@%d: %w", c.Symbol, c.OpenTime, err)
	}

	s.trigger.maybeSweep(ctx, s)
	return nil
}

func (s *PostgresStore) RecentCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	qctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	q := `SELECT ` + candleColumns + ` FROM klines WHERE symbol = $1 ORDER BY open_time DESC LIMIT $2`
	var rows []models.Candle
	if err := s.db.SelectContext(qctx, &rows, q, symbol, limit); err != nil {
		s.l.Error("postgres recent_candles query error",
			applogger.String("symbol", symbol),
			applogger.Int("limit", limit),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("recent candles: %w", err)
	}
	// newest-first from the index; callers want ascending
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (s *PostgresStore) CandleCount(ctx context.Context, symbol string) (int, error) {
	qctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	var n int
	if err := s.db.GetContext(qctx, &n, `SELECT COUNT(*) FROM klines WHERE symbol = $1`, symbol); err != nil {
		return 0, fmt.Errorf("candle count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Symbols(ctx context.Context) ([]string, error) {
	qctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	var out []string
	if err := s.db.SelectContext(qctx, &out, `SELECT DISTINCT symbol FROM klines ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertAnomalyResult(ctx context.Context, r models.AnomalyResult) error {
	if r.Symbol == "" || r.IntervalType == "" {
		return fmt.Errorf("upsert anomaly: symbol and interval_type are required")
	}
	r.CreatedAt = s.opts.now()
	row := anomalyRow{AnomalyResult: r, AnomalyReasons: r.ReasonsString()}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	if _, err := s.db.NamedExecContext(qctx, upsertAnomalySQL, row); err != nil {
		return fmt.Errorf("upsert anomaly %s@%d: %w", r.Symbol, r.Timestamp, err)
	}

	s.trigger.maybeSweep(ctx, s)
	return nil
}

func (s *PostgresStore) RecentAnomalyResults(ctx context.Context, interval domrepo.Interval, sinceHours, limit int) ([]models.AnomalyResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	since := s.opts.now().Add(-time.Duration(sinceHours) * time.Hour).Unix()

	qctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	q := `SELECT ` + anomalyColumns + ` FROM anomalies
		WHERE interval_type = $1 AND timestamp >= $2
		ORDER BY anomaly_score DESC, timestamp DESC
		LIMIT $3`
	var rows []anomalyRow
	if err := s.db.SelectContext(qctx, &rows, q, string(interval), since, limit); err != nil {
		return nil, fmt.Errorf("recent anomalies: %w", err)
	}
	out := make([]models.AnomalyResult, len(rows))
	for i, r := range rows {
		out[i] = r.AnomalyResult
		out[i].Reasons = models.ParseReasons(r.AnomalyReasons)
	}
	return out, nil
}

func (s *PostgresStore) RetentionSweep(ctx context.Context, p models.RetentionPolicy) (models.SweepReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	rep, err := s.sweepLocked(ctx, p)
	if err == nil {
		s.trigger.mark()
	}
	return rep, err
}

func (s *PostgresStore) sweepLocked(ctx context.Context, p models.RetentionPolicy) (models.SweepReport, error) {
	var rep models.SweepReport

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return rep, fmt.Errorf("sweep begin: %w", err)
	}
	defer tx.Rollback()

	cutoff, byAge := ageCutoff(s.opts.now(), p)
	if byAge {
		if rep.Candles, err = execCount(ctx, tx, `DELETE FROM klines WHERE ingested_at <= $1`, cutoff); err != nil {
			return rep, fmt.Errorf("sweep klines: %w", err)
		}
	}
	if p.MaxRowsPerSymbol > 0 {
		if rep.CandlesExcess, err = execCount(ctx, tx, deleteExcessCandlesSQL, p.MaxRowsPerSymbol); err != nil {
			return rep, fmt.Errorf("sweep klines excess: %w", err)
		}
	}
	if byAge {
		if rep.Anomalies, err = execCount(ctx, tx, `DELETE FROM anomalies WHERE created_at <= $1`, cutoff); err != nil {
			return rep, fmt.Errorf("sweep anomalies: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return rep, fmt.Errorf("sweep commit: %w", err)
	}

	// VACUUM cannot run inside a transaction block.
	if s.trigger.shouldVacuum(rep) {
		if _, err := s.db.ExecContext(ctx, `VACUUM ANALYZE klines, anomalies`); err != nil {
			s.l.Warn("postgres vacuum failed", applogger.Error(err))
		} else {
			rep.Vacuumed = true
		}
	}
	return rep, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (models.StoreStats, error) {
	var st models.StoreStats
	qctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row struct {
		SymbolCount  int64        `db:"symbol_count"`
		CandleCount  int64        `db:"kline_count"`
		OldestCandle sql.NullTime `db:"oldest_kline"`
	}
	if err := s.db.GetContext(qctx, &row, `
		SELECT COUNT(DISTINCT symbol) AS symbol_count, COUNT(*) AS kline_count,
			MIN(ingested_at) AS oldest_kline
		FROM klines`); err != nil {
		return st, fmt.Errorf("stats klines: %w", err)
	}
	st.SymbolCount, st.CandleCount = row.SymbolCount, row.CandleCount
	if row.OldestCandle.Valid {
		t := row.OldestCandle.Time
		st.OldestCandle = &t
	}

	var arow struct {
		AnomalyCount  int64        `db:"anomaly_count"`
		Anomalies24h  int64        `db:"anomaly_count_24h"`
		OldestAnomaly sql.NullTime `db:"oldest_anomaly"`
	}
	dayAgo := s.opts.now().Add(-24 * time.Hour).Unix()
	if err := s.db.GetContext(qctx, &arow, `
		SELECT COUNT(*) AS anomaly_count,
			COUNT(*) FILTER (WHERE timestamp >= $1) AS anomaly_count_24h,
			MIN(created_at) AS oldest_anomaly
		FROM anomalies`, dayAgo); err != nil {
		return st, fmt.Errorf("stats anomalies: %w", err)
	}
	st.AnomalyCount, st.Anomalies24h = arow.AnomalyCount, arow.Anomalies24h
	if arow.OldestAnomaly.Valid {
		t := arow.OldestAnomaly.Time
		st.OldestAnomaly = &t
	}

	size, err := s.sizeBytes(qctx)
	if err != nil {
		return st, err
	}
	st.SizeBytes = size
	return st, nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.db.PingContext(qctx)
}

func (s *PostgresStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) sizeBytes(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `
		SELECT COALESCE(pg_total_relation_size('klines'), 0)
			+ COALESCE(pg_total_relation_size('anomalies'), 0)`)
	if err != nil {
		return 0, fmt.Errorf("store size: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) overRowCap(ctx context.Context, limit int) (string, error) {
	var syms []string
	err := s.db.SelectContext(ctx, &syms,
		`SELECT symbol FROM klines GROUP BY symbol HAVING COUNT(*) > $1 LIMIT 1`, limit)
	if err != nil || len(syms) == 0 {
		return "", err
	}
	return syms[0], nil
}

func execCount(ctx context.Context, tx *sqlx.Tx, q string, args ...interface{}) (int64, error) {
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
