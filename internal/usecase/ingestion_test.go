package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	mid "FinPulse/internal/middleware"
	"FinPulse/internal/repository"
	"FinPulse/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestionFixture struct {
	md       *fakeMarketData
	stream   *fakeStream
	universe *staticUniverse
	store    *repository.MemoryStore
	sink     *fakeSink
	engine   *IngestionEngine
}

func newIngestionFixture(t *testing.T, symbols []string, cfg IngestionConfig) *ingestionFixture {
	t.Helper()
	f := &ingestionFixture{
		md:       &fakeMarketData{klines: map[string][]models.Candle{}, klineErr: map[string]error{}},
		stream:   &fakeStream{},
		universe: &staticUniverse{symbols: symbols},
		store:    repository.NewMemoryStore(),
		sink:     &fakeSink{},
	}
	proc := NewCandleProcessor(f.store, f.sink, metrics.Nop{}, nil)
	pipe := mid.NewRealtimePipeline(proc, metrics.Nop{}, mid.WithMaxRPS(0))
	f.engine = NewIngestionEngine(f.universe, f.md, f.stream, f.store, proc, pipe, metrics.Nop{}, nil, cfg)
	return f
}

func fastIngestion() IngestionConfig {
	return IngestionConfig{
		Interval:          drepo.Interval15m,
		HistoryKlines:     16,
		ReconnectDelay:    time.Millisecond,
		MaxReconnects:     2,
		StartupRetryDelay: time.Millisecond,
	}
}

func TestStartEmptyUniverse(t *testing.T) {
	f := newIngestionFixture(t, nil, fastIngestion())

	err := f.engine.Start(context.Background())
	assert.ErrorIs(t, err, ErrEmptyUniverse)
	assert.Equal(t, StateIdle, f.engine.State())
	assert.Zero(t, f.stream.connectCount())
}

func TestStartBackfillsOnlyShortHistories(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t, []string{"BTCUSDT", "ETHUSDT", "BADUSDT"}, fastIngestion())

	for _, c := range history("BTCUSDT", 16) {
		require.NoError(t, f.store.UpsertCandle(ctx, c))
	}
	f.md.klines["ETHUSDT"] = history("ETHUSDT", 20)
	f.md.klineErr["BADUSDT"] = errors.New("503 from upstream")

	require.NoError(t, f.engine.Start(ctx))
	assert.Equal(t, StateStreaming, f.engine.State())

	// BTCUSDT already had enough rows
	assert.Equal(t, []string{"ETHUSDT", "BADUSDT"}, f.md.calls())

	n, err := f.store.CandleCount(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	require.Equal(t, 1, f.stream.connectCount())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "BADUSDT"}, f.stream.connects[0])
	assert.Len(t, f.sink.candles, 16)
}

func TestRunGivesUpAfterMaxReconnects(t *testing.T) {
	f := newIngestionFixture(t, []string{"BTCUSDT"}, fastIngestion())
	f.md.klines["BTCUSDT"] = history("BTCUSDT", 16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := f.engine.Run(ctx)
	assert.ErrorIs(t, err, ErrReconnectsExhausted)
	assert.Equal(t, StateStopped, f.engine.State())
	// initial attempt plus MaxReconnects retries
	assert.Equal(t, 3, f.stream.connectCount())
	// universe re-derived on every attempt
	assert.Equal(t, 3, f.universe.callCount())
}

func TestRunConnectFailuresCountAsReconnects(t *testing.T) {
	f := newIngestionFixture(t, []string{"BTCUSDT"}, fastIngestion())
	f.stream.connectErr = errors.New("dial tcp: i/o timeout")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.ErrorIs(t, f.engine.Run(ctx), ErrReconnectsExhausted)
	assert.Equal(t, 3, f.stream.connectCount())
}

func TestRunDeliveryResetsReconnectCounter(t *testing.T) {
	cfg := fastIngestion()
	cfg.MaxReconnects = 1
	f := newIngestionFixture(t, []string{"BTCUSDT"}, cfg)
	f.md.klines["BTCUSDT"] = history("BTCUSDT", 16)

	live := kline("BTCUSDT", 16, 101, 1000, false)
	// drop, deliver, deliver, drop
	f.stream.scripts = [][]*models.Candle{nil, {&live}, {&live}, nil}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := f.engine.Run(ctx)
	assert.ErrorIs(t, err, ErrReconnectsExhausted)
	// without the reset the engine would have stopped after two connects
	assert.Equal(t, 4, f.stream.connectCount())

	rows, err := f.store.RecentCandles(ctx, "BTCUSDT", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 101.0, rows[0].Close)
}

func TestRunRetriesEmptyUniverseWithoutCountingReconnects(t *testing.T) {
	f := newIngestionFixture(t, nil, fastIngestion())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.engine.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.universe.callCount() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Zero(t, f.engine.Reconnects())
	assert.Equal(t, StateStopped, f.engine.State())
}

func TestShutdownStopsStreaming(t *testing.T) {
	f := newIngestionFixture(t, []string{"BTCUSDT"}, fastIngestion())
	f.md.klines["BTCUSDT"] = history("BTCUSDT", 16)
	f.stream.hold = true
	closed := kline("BTCUSDT", 16, 102, 1000, true)
	f.stream.scripts = [][]*models.Candle{{&closed}}

	errCh := make(chan error, 1)
	go func() { errCh <- f.engine.Run(context.Background()) }()

	assert.Eventually(t, func() bool {
		n, _ := f.store.CandleCount(context.Background(), "BTCUSDT")
		return n == 17
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateStreaming, f.engine.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Shutdown(ctx))
	assert.NoError(t, <-errCh)
	assert.Equal(t, StateStopped, f.engine.State())
	assert.False(t, f.engine.IsConnected())

	// the closed live bucket reached the archive after the backfill batch
	assert.Len(t, f.sink.candles, 17)
}

func TestIngestionStateString(t *testing.T) {
	assert.Equal(t, "selecting_universe", StateSelectingUniverse.String())
	assert.Equal(t, "stopped", StateStopped.String())
	for s := StateIdle; s <= StateStopped; s++ {
		assert.Contains(t, metrics.IngestionStates, s.String())
	}
}

// cancelAwareStore rejects writes whose context is already done.
type cancelAwareStore struct {
	*repository.MemoryStore
}

func (s cancelAwareStore) UpsertCandle(ctx context.Context, c models.Candle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.UpsertCandle(ctx, c)
}

func TestHandleCompletesWriteAfterCancel(t *testing.T) {
	mem := repository.NewMemoryStore()
	store := cancelAwareStore{MemoryStore: mem}
	proc := NewCandleProcessor(store, &fakeSink{}, metrics.Nop{}, nil)
	pipe := mid.NewRealtimePipeline(proc, metrics.Nop{}, mid.WithMaxRPS(0))
	e := NewIngestionEngine(&staticUniverse{symbols: []string{"BTCUSDT"}}, &fakeMarketData{},
		&fakeStream{}, store, proc, pipe, metrics.Nop{}, nil, fastIngestion())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := kline("BTCUSDT", 0, 101, 1000, true)
	e.handle(ctx, &c)

	n, err := mem.CandleCount(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, pipe.Pending())
}
