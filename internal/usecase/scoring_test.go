package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	"FinPulse/internal/repository"
	"FinPulse/internal/services/analytics"
	"FinPulse/pkg/cache"
	"FinPulse/pkg/metrics"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoringStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	now := kline("X", 16, 1, 1, true).OpenAt().Add(20 * time.Minute)
	ret := repository.DefaultRetention()
	ret.AutoCleanup = false
	s := repository.NewMemoryStore(repository.WithRetention(ret), repository.WithClock(func() time.Time { return now }))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s drepo.Store, candles []models.Candle) {
	t.Helper()
	for _, c := range candles {
		require.NoError(t, s.UpsertCandle(context.Background(), c))
	}
}

func spikeSeries(sym string) []models.Candle {
	out := make([]models.Candle, 16)
	for i := range out {
		out[i] = kline(sym, i, 100, 1000+float64(i%2)*10, true)
	}
	out[15] = kline(sym, 15, 110, 3000, true)
	return out
}

func quietSeries(sym string) []models.Candle {
	out := make([]models.Candle, 16)
	for i := range out {
		c := 100.0
		if i%2 == 1 {
			c = 100.1
		}
		out[i] = kline(sym, i, c, 1000, true)
	}
	return out
}

type failingSymbols struct {
	drepo.Store
}

func (failingSymbols) Symbols(context.Context) ([]string, error) {
	return nil, errors.New("relation \"klines\" does not exist")
}

func TestScoringRunOnce(t *testing.T) {
	ctx := context.Background()
	store := scoringStore(t)
	seed(t, store, spikeSeries("SPIKEUSDT"))
	seed(t, store, quietSeries("QUIETUSDT"))
	seed(t, store, history("NEWUSDT", 5))

	md := &fakeMarketData{tickers: []models.Ticker24h{{Symbol: "SPIKEUSDT", QuoteVolume: 7.5e8}}}
	sink := &fakeSink{}
	eng := NewScoringEngine(store, analytics.NewScorer(analytics.DefaultParams()),
		NewVolumeCache(md, nil, 0, metrics.Nop{}, nil), sink, metrics.Nop{}, nil,
		ScoringConfig{Interval: time.Minute, Window: 150})

	rep, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 3, rep.Symbols)
	assert.Equal(t, 1, rep.Scored)
	assert.Equal(t, 1, rep.Anomalies)
	assert.Equal(t, map[string]int{"below_min_return": 1, "insufficient_klines": 1}, rep.Skipped)

	rows, err := store.RecentAnomalyResults(ctx, drepo.Interval15m, 24, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, "SPIKEUSDT", got.Symbol)
	assert.Equal(t, []models.Reason{models.ReasonPrice, models.ReasonVolume}, got.Reasons)
	assert.True(t, got.IsAnomaly)
	assert.Equal(t, 7.5e8, got.QuoteVolume24h)
	assert.Equal(t, spikeSeries("SPIKEUSDT")[15].OpenTime/1000, got.Timestamp)

	require.Len(t, sink.results, 1)
	assert.Equal(t, "SPIKEUSDT", sink.results[0].Symbol)
}

func TestScoringRerunReplacesResult(t *testing.T) {
	ctx := context.Background()
	store := scoringStore(t)
	seed(t, store, spikeSeries("SPIKEUSDT"))

	eng := NewScoringEngine(store, analytics.NewScorer(analytics.DefaultParams()), nil, nil, metrics.Nop{}, nil, ScoringConfig{})
	_, err := eng.RunOnce(ctx)
	require.NoError(t, err)

	// the live bucket moves before the next run
	seed(t, store, []models.Candle{kline("SPIKEUSDT", 15, 120, 3000, false)})
	_, err = eng.RunOnce(ctx)
	require.NoError(t, err)

	rows, err := store.RecentAnomalyResults(ctx, drepo.Interval15m, 24, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 120.0, rows[0].ClosePrice)
	assert.Zero(t, rows[0].QuoteVolume24h)
}

func TestScoringSymbolsFailureAbortsRun(t *testing.T) {
	store := failingSymbols{Store: scoringStore(t)}
	eng := NewScoringEngine(store, analytics.NewScorer(analytics.DefaultParams()), nil, nil, metrics.Nop{}, nil, ScoringConfig{})

	_, err := eng.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestScoringSinkFailureIsNotFatal(t *testing.T) {
	store := scoringStore(t)
	seed(t, store, spikeSeries("SPIKEUSDT"))
	sink := &fakeSink{err: errors.New("kafka: leader not available")}
	eng := NewScoringEngine(store, analytics.NewScorer(analytics.DefaultParams()), nil, sink, metrics.Nop{}, nil, ScoringConfig{})

	rep, err := eng.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scored)
}

func TestScoringRunStopsOnCancel(t *testing.T) {
	store := scoringStore(t)
	seed(t, store, spikeSeries("SPIKEUSDT"))
	eng := NewScoringEngine(store, analytics.NewScorer(analytics.DefaultParams()), nil, nil, metrics.Nop{}, nil,
		ScoringConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	assert.Eventually(t, func() bool {
		rows, _ := store.RecentAnomalyResults(context.Background(), drepo.Interval15m, 24, 1)
		return len(rows) == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scoring loop did not stop")
	}
}

func TestVolumeCacheServesFromCache(t *testing.T) {
	ctx := context.Background()
	md := &fakeMarketData{tickers: []models.Ticker24h{{Symbol: "BTCUSDT", QuoteVolume: 1e9}}}
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer mc.Close()
	vc := NewVolumeCache(md, mc, time.Minute, metrics.Nop{}, nil)

	assert.Equal(t, 1e9, vc.QuoteVolumes(ctx)["BTCUSDT"])
	assert.Equal(t, 1e9, vc.QuoteVolumes(ctx)["BTCUSDT"])
	assert.Equal(t, 1, md.tickerHits)
}

func TestVolumeCacheUpstreamFailureYieldsZeros(t *testing.T) {
	md := &fakeMarketData{tickerErr: errors.New("503")}
	vc := NewVolumeCache(md, nil, time.Minute, metrics.Nop{}, nil)

	got := vc.QuoteVolumes(context.Background())
	assert.Empty(t, got)
	assert.Zero(t, got["BTCUSDT"])
}

func TestVolumeCacheRedisBacked(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	rc := cache.NewRedisCacheWithClient(db, "fp")
	md := &fakeMarketData{tickers: []models.Ticker24h{{Symbol: "BTCUSDT", QuoteVolume: 1}}}
	vc := NewVolumeCache(md, rc, 5*time.Minute, metrics.Nop{}, nil)

	mock.ExpectGet("fp:" + quoteVolumeKey).RedisNil()
	mock.ExpectSet("fp:"+quoteVolumeKey, []byte(`{"BTCUSDT":1}`), 5*time.Minute).SetVal("OK")
	assert.Equal(t, 1.0, vc.QuoteVolumes(ctx)["BTCUSDT"])

	mock.ExpectGet("fp:" + quoteVolumeKey).SetVal(`{"BTCUSDT":2}`)
	assert.Equal(t, 2.0, vc.QuoteVolumes(ctx)["BTCUSDT"])

	assert.Equal(t, 1, md.tickerHits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
