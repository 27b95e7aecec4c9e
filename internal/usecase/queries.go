package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	"FinPulse/pkg/util"

	"github.com/shopspring/decimal"
)

const topMinScore = 0.5

// IngestionStatus is the read side of the ingestion engine.
type IngestionStatus interface {
	State() IngestionState
	Symbols() []string
	Reconnects() int
	IsConnected() bool
}

// RetentionInfo describes the active retention settings for reporting.
type RetentionInfo struct {
	MaxAge          time.Duration
	CleanupInterval time.Duration
	AutoCleanup     bool
}

// QueryService backs the read-only API.
type QueryService struct {
	store     drepo.Store
	ingest    IngestionStatus
	retention RetentionInfo
	now       func() time.Time
}

// NewQueryService creates a QueryService. ingest may be nil.
func NewQueryService(store drepo.Store, ingest IngestionStatus, retention RetentionInfo) *QueryService {
	return &QueryService{store: store, ingest: ingest, retention: retention, now: time.Now}
}

// Anomalies lists recent results best-first. Twice the limit is fetched so
// the filters can still fill the page.
func (q *QueryService) Anomalies(ctx context.Context, req models.AnomaliesRequest) (models.AnomaliesView, error) {
	rows, err := q.store.RecentAnomalyResults(ctx, drepo.NormalizeInterval(req.Interval), req.Hours, req.Limit*2)
	if err != nil {
		return models.AnomaliesView{}, fmt.Errorf("recent anomalies: %w", err)
	}

	out := make([]models.AnomalyView, 0, req.Limit)
	for _, r := range rows {
		if r.AnomalyScore < req.MinScore {
			continue
		}
		if req.AnomalyOnly && isNormal(r) {
			continue
		}
		out = append(out, anomalyView(r))
		if len(out) == req.Limit {
			break
		}
	}
	return models.AnomaliesView{Count: len(out), Data: out, Filters: req}, nil
}

// TopAnomalies ranks flagged results scoring above 0.5.
func (q *QueryService) TopAnomalies(ctx context.Context, req models.TopAnomaliesRequest) ([]models.TopAnomalyView, error) {
	rows, err := q.store.RecentAnomalyResults(ctx, drepo.DefaultInterval(), req.Hours, req.Limit*3)
	if err != nil {
		return nil, fmt.Errorf("recent anomalies: %w", err)
	}

	out := make([]models.TopAnomalyView, 0, req.Limit)
	for _, r := range rows {
		if isNormal(r) || r.AnomalyScore <= topMinScore {
			continue
		}
		out = append(out, models.TopAnomalyView{
			Rank:             len(out) + 1,
			Symbol:           r.Symbol,
			CurrentReturnPct: round(r.CurReturn*100, 2),
			AnomalyScore:     round(r.AnomalyScore, 2),
			PriceZScore:      round(r.PriceZScore, 2),
			VolumeZScore:     round(r.VolumeZScore, 2),
			VolatilityZScore: round(r.VolatilityZScore, 2),
			QuoteVolume24h:   int64(r.QuoteVolume24h),
			AnomalyReasons:   r.ReasonsString(),
			Datetime:         util.ClockTime(r.Timestamp),
		})
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

// Klines returns the newest candles of a symbol in ascending order.
func (q *QueryService) Klines(ctx context.Context, req models.KlinesRequest) (models.KlinesView, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	rows, err := q.store.RecentCandles(ctx, symbol, req.Limit)
	if err != nil {
		return models.KlinesView{}, fmt.Errorf("recent klines %s: %w", symbol, err)
	}
	out := make([]models.KlineView, len(rows))
	for i, c := range rows {
		out[i] = models.KlineView{
			Timestamp:   c.OpenTime,
			Datetime:    util.UnixMilliISO(c.OpenTime),
			Open:        c.Open,
			High:        c.High,
			Low:         c.Low,
			Close:       c.Close,
			Volume:      c.Volume,
			QuoteVolume: c.QuoteVolume,
		}
	}
	return models.KlinesView{Symbol: symbol, Count: len(out), Data: out}, nil
}

// Health reports store contents, retention settings and ingestion state.
func (q *QueryService) Health(ctx context.Context) (models.HealthView, error) {
	now := q.now()
	st, err := q.store.Stats(ctx)
	if err != nil {
		return models.HealthView{}, fmt.Errorf("store stats: %w", err)
	}
	if err := q.store.Health(ctx); err != nil {
		return models.HealthView{}, fmt.Errorf("store health: %w", err)
	}

	view := models.HealthView{
		Status:     "healthy",
		Timestamp:  now.Unix(),
		ServerTime: now.UTC().Format(time.RFC3339),
		Store: models.StoreView{
			SizeMB:               round(float64(st.SizeBytes)/(1024*1024), 2),
			MaxAgeHours:          util.HoursCeil(q.retention.MaxAge),
			SymbolCount:          st.SymbolCount,
			KlineCount:           st.CandleCount,
			AnomalyCount:         st.AnomalyCount,
			AnomalyCount24h:      st.Anomalies24h,
			AutoCleanup:          q.retention.AutoCleanup,
			CleanupIntervalHours: int(q.retention.CleanupInterval / time.Hour),
		},
	}
	oldest := map[string]string{}
	if st.OldestCandle != nil {
		oldest["klines"] = st.OldestCandle.UTC().Format(time.RFC3339)
	}
	if st.OldestAnomaly != nil {
		oldest["anomalies"] = st.OldestAnomaly.UTC().Format(time.RFC3339)
	}
	if len(oldest) > 0 {
		view.Store.OldestData = oldest
	}

	if q.ingest != nil {
		view.Ingestion = &models.IngestionView{
			State:      q.ingest.State().String(),
			Symbols:    len(q.ingest.Symbols()),
			Reconnects: q.ingest.Reconnects(),
			Connected:  q.ingest.IsConnected(),
		}
	}
	return view, nil
}

// Stats summarises monitored symbols and recent anomaly counts.
func (q *QueryService) Stats(ctx context.Context) (models.StatsView, error) {
	st, err := q.store.Stats(ctx)
	if err != nil {
		return models.StatsView{}, fmt.Errorf("store stats: %w", err)
	}
	recent, err := q.store.RecentAnomalyResults(ctx, drepo.DefaultInterval(), 1, 1000)
	if err != nil {
		return models.StatsView{}, fmt.Errorf("recent anomalies: %w", err)
	}
	n := 0
	for _, r := range recent {
		if !isNormal(r) {
			n++
		}
	}
	return models.StatsView{
		MonitoredSymbols: st.SymbolCount,
		TotalKlines:      st.CandleCount,
		Anomalies24h:     st.Anomalies24h,
		Anomalies1h:      n,
	}, nil
}

func isNormal(r models.AnomalyResult) bool {
	return r.ReasonsString() == string(models.ReasonNormal)
}

func anomalyView(r models.AnomalyResult) models.AnomalyView {
	return models.AnomalyView{
		Symbol:            r.Symbol,
		Timestamp:         r.Timestamp,
		Datetime:          util.UnixISO(r.Timestamp),
		IntervalType:      r.IntervalType,
		CurrentReturnPct:  round(r.CurReturn*100, 3),
		ClosePrice:        r.ClosePrice,
		CurrentVolume:     r.CurVolume,
		CurrentVolatility: r.CurVolatility,
		PriceZScore:       round(r.PriceZScore, 2),
		PricePercentile:   round(r.PricePercentile, 1),
		VolumeZScore:      round(r.VolumeZScore, 2),
		VolatilityZScore:  round(r.VolatilityZScore, 2),
		AnomalyScore:      round(r.AnomalyScore, 3),
		PriceScore:        round(r.PriceScore, 3),
		VolumeScore:       round(r.VolumeScore, 3),
		VolatilityScore:   round(r.VolatilityScore, 3),
		AnomalyReasons:    r.ReasonsString(),
		QuoteVolume24h:    r.QuoteVolume24h,
		CreatedAt:         r.CreatedAt,
	}
}

// round is half-away-from-zero at the given decimal places.
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
