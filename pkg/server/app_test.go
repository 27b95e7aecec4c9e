package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	"FinPulse/internal/repository"
	"FinPulse/internal/services/analytics"
	"FinPulse/internal/usecase"
	"FinPulse/pkg/config"
	"FinPulse/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type oneSymbol struct{}

func (oneSymbol) Select(context.Context) []string { return []string{"BTCUSDT"} }

type noHistory struct{}

func (noHistory) ExchangeInfo(context.Context) ([]models.ContractInfo, error) { return nil, nil }
func (noHistory) Tickers24h(context.Context) ([]models.Ticker24h, error)      { return nil, nil }
func (noHistory) Klines(context.Context, string, drepo.Interval, int) ([]models.Candle, error) {
	return nil, nil
}

// deadStream refuses every connect, or holds the subscription open when hold is set.
type deadStream struct{ hold bool }

func (s deadStream) Connect(context.Context, []string) error {
	if s.hold {
		return nil
	}
	return errors.New("dial tcp: connection refused")
}

func (s deadStream) Read(ctx context.Context) (<-chan *models.Candle, <-chan error) {
	out := make(chan *models.Candle)
	errs := make(chan error)
	go func() {
		<-ctx.Done()
		close(out)
		close(errs)
	}()
	return out, errs
}

func (deadStream) Close() error        { return nil }
func (s deadStream) IsConnected() bool { return s.hold }

func newTestApp(t *testing.T, stream drepo.MarketStream) *App {
	t.Helper()
	cfg, err := config.Parse([]byte("storage:\n  backend: memory\nserver:\n  shutdown_timeout: 2s\ningestion:\n  status_interval: 5ms\n"))
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	proc := usecase.NewCandleProcessor(store, nil, metrics.Nop{}, nil)
	ingest := usecase.NewIngestionEngine(oneSymbol{}, noHistory{}, stream, store, proc, nil, metrics.Nop{}, nil,
		usecase.IngestionConfig{ReconnectDelay: time.Millisecond, MaxReconnects: 1, StartupRetryDelay: time.Millisecond})
	scoring := usecase.NewScoringEngine(store, analytics.NewScorer(analytics.DefaultParams()), nil, nil, metrics.Nop{}, nil,
		usecase.ScoringConfig{Interval: time.Hour})
	return New(cfg, nil, store, ingest, scoring, nil)
}

func TestRunContextFailsWhenIngestionGivesUp(t *testing.T) {
	app := newTestApp(t, deadStream{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := app.RunContext(ctx)
	assert.ErrorIs(t, err, usecase.ErrReconnectsExhausted)
	assert.Equal(t, usecase.StateStopped, app.ingestion.State())
}

func TestRunContextStopsCleanlyOnCancel(t *testing.T) {
	app := newTestApp(t, deadStream{hold: true})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.RunContext(ctx) }()

	assert.Eventually(t, func() bool {
		return app.ingestion.State() == usecase.StateStreaming
	}, 2*time.Second, time.Millisecond)
	// let the status loop tick at least once
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, usecase.StateStopped, app.ingestion.State())
}
