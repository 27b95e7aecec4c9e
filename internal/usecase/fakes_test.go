package usecase

import (
	"context"
	"errors"
	"sync"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
)

type fakeMarketData struct {
	mu         sync.Mutex
	contracts  []models.ContractInfo
	tickers    []models.Ticker24h
	klines     map[string][]models.Candle
	infoErr    error
	tickerErr  error
	klineErr   map[string]error
	klineCalls []string
	tickerHits int
}

func (f *fakeMarketData) ExchangeInfo(context.Context) ([]models.ContractInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contracts, f.infoErr
}

func (f *fakeMarketData) Tickers24h(context.Context) ([]models.Ticker24h, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickerHits++
	return f.tickers, f.tickerErr
}

func (f *fakeMarketData) Klines(_ context.Context, symbol string, _ drepo.Interval, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.klineCalls = append(f.klineCalls, symbol)
	if err := f.klineErr[symbol]; err != nil {
		return nil, err
	}
	rows := f.klines[symbol]
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, nil
}

func (f *fakeMarketData) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.klineCalls...)
}

// fakeStream replays one script per Connect. An empty script ends the
// subscription immediately with an error.
type fakeStream struct {
	mu         sync.Mutex
	scripts    [][]*models.Candle
	connectErr error
	connects   [][]string
	connected  bool
	hold       bool // keep the subscription open after the script
}

func (f *fakeStream) Connect(_ context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, append([]string(nil), symbols...))
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeStream) Read(ctx context.Context) (<-chan *models.Candle, <-chan error) {
	f.mu.Lock()
	var script []*models.Candle
	if len(f.scripts) > 0 {
		script, f.scripts = f.scripts[0], f.scripts[1:]
	}
	hold := f.hold
	f.mu.Unlock()

	out := make(chan *models.Candle)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, c := range script {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
			return
		}
		errs <- errors.New("connection reset by peer")
	}()
	return out, errs
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

type staticUniverse struct {
	mu      sync.Mutex
	symbols []string
	calls   int
}

func (u *staticUniverse) Select(context.Context) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	return append([]string(nil), u.symbols...)
}

func (u *staticUniverse) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type fakeSink struct {
	mu      sync.Mutex
	candles []models.Candle
	results []models.AnomalyResult
	err     error
}

func (s *fakeSink) ArchiveCandles(_ context.Context, cs []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, cs...)
	return s.err
}

func (s *fakeSink) PublishResults(_ context.Context, rs []models.AnomalyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, rs...)
	return s.err
}

const bucketMs = int64(15 * 60 * 1000)

func kline(sym string, i int, close, quoteVol float64, closed bool) models.Candle {
	open := int64(1_700_000_100_000)/bucketMs*bucketMs + int64(i)*bucketMs
	return models.Candle{
		Symbol:      sym,
		OpenTime:    open,
		CloseTime:   open + bucketMs - 1,
		Open:        close,
		High:        close + 0.05,
		Low:         close - 0.05,
		Close:       close,
		Volume:      quoteVol / close,
		QuoteVolume: quoteVol,
		TradesCount: 10,
		Closed:      closed,
	}
}

func history(sym string, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = kline(sym, i, 100, 1000, true)
	}
	return out
}
