package usecase

import (
	"context"
	"sort"
	"strings"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	applogger "FinPulse/pkg/logger"
)

const (
	contractPerpetual = "PERPETUAL"
	statusTrading     = "TRADING"
)

// UniverseConfig bounds the monitored symbol set.
type UniverseConfig struct {
	QuoteAsset        string
	MinQuoteVolume24h float64
	TopN              int
}

// UniverseSelector picks the top-N liquid perpetual contracts.
type UniverseSelector struct {
	md      drepo.MarketData
	cfg     UniverseConfig
	metrics drepo.Metrics
	l       *applogger.Logger
}

func NewUniverseSelector(md drepo.MarketData, cfg UniverseConfig, metrics drepo.Metrics, l *applogger.Logger) *UniverseSelector {
	if l == nil {
		l = applogger.NewNop()
	}
	return &UniverseSelector{md: md, cfg: cfg, metrics: metrics, l: l}
}

// Select returns the ranked universe. Upstream failures yield an empty list.
func (s *UniverseSelector) Select(ctx context.Context) []string {
	contracts, err := s.md.ExchangeInfo(ctx)
	if err != nil {
		s.metrics.RecordError("universe_exchange_info")
		s.l.Error("universe: exchange info failed", applogger.Error(err))
		return nil
	}
	tickers, err := s.md.Tickers24h(ctx)
	if err != nil {
		s.metrics.RecordError("universe_tickers")
		s.l.Error("universe: 24h tickers failed", applogger.Error(err))
		return nil
	}

	out := RankUniverse(contracts, tickers, s.cfg.MinQuoteVolume24h, s.cfg.TopN, s.cfg.QuoteAsset)
	s.metrics.RecordUniverseSize(len(out))
	s.l.Info("universe selected",
		applogger.Int("contracts", len(contracts)),
		applogger.Int("selected", len(out)),
		applogger.Float64("min_quote_volume", s.cfg.MinQuoteVolume24h),
	)
	return out
}

// RankUniverse filters trading perpetuals quoted in quote with at least minVol
// 24h quote volume, ranks them by volume descending and keeps the first topN.
// Ties keep exchange order.
func RankUniverse(contracts []models.ContractInfo, tickers []models.Ticker24h, minVol float64, topN int, quote string) []string {
	vol := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		vol[t.Symbol] = t.QuoteVolume
	}

	type ranked struct {
		symbol string
		volume float64
	}
	cands := make([]ranked, 0, len(contracts))
	for _, c := range contracts {
		if c.ContractType != contractPerpetual || c.Status != statusTrading {
			continue
		}
		if !strings.EqualFold(c.QuoteAsset, quote) {
			continue
		}
		v, ok := vol[c.Symbol]
		if !ok || v < minVol {
			continue
		}
		cands = append(cands, ranked{symbol: c.Symbol, volume: v})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].volume > cands[j].volume })

	if topN > 0 && len(cands) > topN {
		cands = cands[:topN]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.symbol
	}
	return out
}
