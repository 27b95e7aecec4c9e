package di

import (
	"context"
	"fmt"
	"time"

	drepo "FinPulse/internal/domain/repository"
	"FinPulse/internal/handler/api"
	mid "FinPulse/internal/middleware"
	internalrepo "FinPulse/internal/repository"
	"FinPulse/internal/service/binance"
	svcmetrics "FinPulse/internal/service/metrics"
	"FinPulse/internal/service/ratelimit"
	"FinPulse/internal/services/analytics"
	"FinPulse/internal/usecase"
	"FinPulse/pkg/cache"
	pkgch "FinPulse/pkg/clickhouse"
	"FinPulse/pkg/config"
	xhttp "FinPulse/pkg/http"
	pkgkafka "FinPulse/pkg/kafka"
	applogger "FinPulse/pkg/logger"
	"FinPulse/pkg/metrics"
	"FinPulse/pkg/retry"
	"FinPulse/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("service", "finpulse")), nil
}

// ProvideRegistry creates the process-wide metrics registry.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) drepo.Metrics {
	return metrics.NewWithRegistry(reg)
}

// RetentionFromConfig maps storage.retention.
func RetentionFromConfig(cfg *config.Config) internalrepo.RetentionConfig {
	r := cfg.Storage.Retention
	rc := internalrepo.RetentionConfig{
		CleanupInterval: r.CleanupInterval,
		AutoCleanup:     r.AutoCleanup,
		VacuumThreshold: r.VacuumThreshold,
	}
	rc.Policy.MaxAge = r.MaxAge
	rc.Policy.MaxRowsPerSymbol = r.MaxKlinesPerSymbol
	rc.Policy.MaxStoreSizeBytes = cfg.MaxStoreSizeBytes()
	return rc
}

// ProvideStore opens the configured backend. Postgres runs a sweep on open.
func ProvideStore(cfg *config.Config, l *applogger.Logger, m drepo.Metrics) (drepo.Store, func(), error) {
	opts := []internalrepo.StoreOption{
		internalrepo.WithRetention(RetentionFromConfig(cfg)),
		internalrepo.WithStoreLogger(l),
		internalrepo.WithStoreMetrics(m),
		internalrepo.WithQueryTimeout(cfg.Storage.Postgres.QueryTimeout),
	}

	var store drepo.Store
	switch cfg.Storage.Backend {
	case "memory":
		store = internalrepo.NewMemoryStore(opts...)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pg, err := internalrepo.OpenPostgres(ctx, internalrepo.PostgresConfig{
			DSN:             cfg.Storage.Postgres.DSN,
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		}, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		store = pg
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			l.Warn("store close", applogger.Error(err))
		}
	}
	return store, cleanup, nil
}

// ProvideRESTClient creates the Binance futures REST client.
func ProvideRESTClient(cfg *config.Config, l *applogger.Logger) *binance.RESTClient {
	b := cfg.Binance
	return binance.NewRESTClient(
		binance.WithBaseURL(b.RestURL),
		binance.WithHTTPClient(xhttp.NewClient(
			xhttp.WithTimeout(b.Timeout),
			xhttp.WithUserAgent("finpulse/1.0"),
		)),
		binance.WithRetryPolicy(retry.New(
			retry.WithMaxAttempts(b.Retry.MaxAttempts),
			retry.WithBackoff(b.Retry.InitialInterval, b.Retry.Multiplier, b.Retry.MaxInterval),
			retry.WithStatuses(b.Retry.Statuses),
		)),
		binance.WithRateLimit(b.RateLimit, b.RateBurst),
		binance.WithBreaker(b.Breaker.MaxFailures, b.Breaker.OpenTimeout),
		binance.WithRESTLogger(l.With(applogger.String("component", "binance_rest"))),
	)
}

// ProvideStreamClient creates the combined kline stream.
func ProvideStreamClient(cfg *config.Config, l *applogger.Logger, m drepo.Metrics) drepo.MarketStream {
	return binance.NewStreamClient(
		drepo.NormalizeInterval(cfg.Ingestion.Interval),
		binance.WithStreamURL(cfg.Binance.WSURL),
		binance.WithPingInterval(cfg.Binance.PingInterval),
		binance.WithStreamLogger(l.With(applogger.String("component", "binance_ws"))),
		binance.WithStreamMetrics(m),
	)
}

// ProvideCache returns an in-process cache, layered over Redis when enabled.
// An unreachable Redis degrades to the in-process layer only.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		c := cache.NewMemoryCache(cache.WithMemoryMaxSize(1024))
		return c, func() { _ = c.Close() }, nil
	}
	remote, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 4*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		l.Warn("redis unavailable, using in-process cache", applogger.Error(err))
		c := cache.NewMemoryCache(cache.WithMemoryMaxSize(1024))
		return c, func() { _ = c.Close() }, nil
	}
	c := cache.NewLayeredCache(remote,
		cache.WithLayeredL1(cache.WithMemoryMaxSize(1024)),
		cache.WithLayeredMemoryTTL(30*time.Second),
	)
	return c, func() { _ = c.Close() }, nil
}

// ProvideKafkaProducer creates the event producer, or nil when Kafka is off.
// With log collection enabled, repeated error logs are flushed to logs_topic.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.Collect.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collect.Interval,
			CountThreshold: cfg.Log.Collect.Threshold,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
	}

	cleanup := func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideClickHouseArchive connects the archive sink, or returns nil when
// ClickHouse is off.
func ProvideClickHouseArchive(cfg *config.Config, l *applogger.Logger) (*internalrepo.ClickHouseArchive, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	archive := internalrepo.NewClickHouseArchive(client,
		ch.Database+"."+ch.CandlesTable,
		ch.Database+"."+ch.AnomaliesTable,
		l.With(applogger.String("component", "clickhouse_archive")),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, archive.Schema(ch.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close", applogger.Error(err))
		}
	}
	return archive, cleanup, nil
}

// ProvideSinks collects the optional downstream sinks.
func ProvideSinks(cfg *config.Config, producer *pkgkafka.Producer, archive *internalrepo.ClickHouseArchive) *internalrepo.MultiSink {
	var sinks []any
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaResultPublisher(producer, cfg.Kafka.Topic, cfg.Kafka.AnomaliesOnly))
	}
	if archive != nil {
		sinks = append(sinks, archive)
	}
	return internalrepo.NewMultiSink(sinks...)
}

// ProvideResultSink exposes the fan-out as a ResultSink, nil when empty.
func ProvideResultSink(m *internalrepo.MultiSink) drepo.ResultSink {
	if m == nil || m.Empty() {
		return nil
	}
	return m
}

// ProvideCandleSink exposes the fan-out as a CandleSink, nil when empty.
func ProvideCandleSink(m *internalrepo.MultiSink) drepo.CandleSink {
	if m == nil || m.Empty() {
		return nil
	}
	return m
}

// ProvideUniverse creates the symbol universe selector.
func ProvideUniverse(md drepo.MarketData, cfg *config.Config, m drepo.Metrics, l *applogger.Logger) *usecase.UniverseSelector {
	return usecase.NewUniverseSelector(md, usecase.UniverseConfig{
		QuoteAsset:        cfg.Universe.QuoteAsset,
		MinQuoteVolume24h: cfg.Universe.MinQuoteVolume24h,
		TopN:              cfg.Universe.TopN,
	}, m, l.With(applogger.String("component", "universe")))
}

// ProvideCandleProcessor creates the store writer.
func ProvideCandleProcessor(store drepo.Store, archive drepo.CandleSink, m drepo.Metrics, l *applogger.Logger) *usecase.CandleProcessor {
	return usecase.NewCandleProcessor(store, archive, m, l)
}

// ProvidePipeline buffers live updates between the socket and the store.
func ProvidePipeline(proc *usecase.CandleProcessor, m drepo.Metrics, cfg *config.Config, l *applogger.Logger) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(proc, m,
		mid.WithMaxRPS(cfg.Ingestion.Pipeline.MaxRPS),
		mid.WithBufferSize(cfg.Ingestion.Pipeline.BufferSize),
		mid.WithLimiter(ratelimit.New()),
		mid.WithPipelineLogger(l.With(applogger.String("component", "pipeline"))),
	)
}

// ProvideIngestion creates the streaming ingestion engine.
func ProvideIngestion(
	universe *usecase.UniverseSelector,
	md drepo.MarketData,
	stream drepo.MarketStream,
	store drepo.Store,
	proc *usecase.CandleProcessor,
	pipe *mid.RealtimePipeline,
	m drepo.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.IngestionEngine {
	in := cfg.Ingestion
	return usecase.NewIngestionEngine(universe, md, stream, store, proc, pipe, m,
		l.With(applogger.String("component", "ingestion")),
		usecase.IngestionConfig{
			Interval:          drepo.NormalizeInterval(in.Interval),
			HistoryKlines:     in.HistoryKlines,
			ReconnectDelay:    in.ReconnectDelay,
			MaxReconnects:     in.MaxReconnects,
			StartupRetryDelay: in.StartupRetryDelay,
			WriteTimeout:      in.WriteTimeout,
		})
}

// ProvideScorer creates the statistical model from the scoring section.
func ProvideScorer(cfg *config.Config) *analytics.Scorer {
	return analytics.NewScorer(analytics.ParamsFromConfig(cfg))
}

// ProvideVolumeCache caches 24h quote volumes between scoring runs.
func ProvideVolumeCache(md drepo.MarketData, c cache.Service, cfg *config.Config, m drepo.Metrics, l *applogger.Logger) *usecase.VolumeCache {
	return usecase.NewVolumeCache(md, c, cfg.Scoring.VolumeCacheTTL, m, l)
}

// ProvideScoring creates the periodic anomaly scoring engine.
func ProvideScoring(
	store drepo.Store,
	scorer *analytics.Scorer,
	volumes *usecase.VolumeCache,
	sink drepo.ResultSink,
	m drepo.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.ScoringEngine {
	return usecase.NewScoringEngine(store, scorer, volumes, sink, m,
		l.With(applogger.String("component", "scoring")),
		usecase.ScoringConfig{Interval: cfg.Scoring.Interval, Window: cfg.Scoring.Window})
}

// ProvideQueryService backs the read-only API.
func ProvideQueryService(store drepo.Store, ingest *usecase.IngestionEngine, cfg *config.Config) *usecase.QueryService {
	r := cfg.Storage.Retention
	return usecase.NewQueryService(store, ingest, usecase.RetentionInfo{
		MaxAge:          r.MaxAge,
		CleanupInterval: r.CleanupInterval,
		AutoCleanup:     r.AutoCleanup,
	})
}

// ProvideHTTPServer mounts the query API and, when enabled, /metrics.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, q *usecase.QueryService, reg *prometheus.Registry) *xhttp.Server {
	h := api.NewAnomaliesEchoHandler(l, q, svcmetrics.NewAPIMetrics(reg))
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	}
	return xhttp.NewServer(h, l.With(applogger.String("component", "http")), opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	store drepo.Store,
	ingestion *usecase.IngestionEngine,
	scoring *usecase.ScoringEngine,
	srv *xhttp.Server,
) *server.App {
	return server.New(cfg, l, store, ingestion, scoring, srv)
}
