package usecase

import (
	"context"
	"errors"
	"testing"

	"FinPulse/internal/domain/models"
	"FinPulse/pkg/metrics"

	"github.com/stretchr/testify/assert"
)

func perp(sym string) models.ContractInfo {
	return models.ContractInfo{Symbol: sym, ContractType: "PERPETUAL", QuoteAsset: "USDT", Status: "TRADING"}
}

func TestRankUniverseFiltersAndRanks(t *testing.T) {
	contracts := []models.ContractInfo{
		perp("BTCUSDT"),
		perp("ETHUSDT"),
		perp("DOGEUSDT"),
		{Symbol: "BTCUSDT_250926", ContractType: "CURRENT_QUARTER", QuoteAsset: "USDT", Status: "TRADING"},
		{Symbol: "ETHBUSD", ContractType: "PERPETUAL", QuoteAsset: "BUSD", Status: "TRADING"},
		{Symbol: "LUNAUSDT", ContractType: "PERPETUAL", QuoteAsset: "USDT", Status: "SETTLING"},
		perp("NOTICKERUSDT"),
		perp("TINYUSDT"),
	}
	tickers := []models.Ticker24h{
		{Symbol: "BTCUSDT", QuoteVolume: 9e9},
		{Symbol: "ETHUSDT", QuoteVolume: 4e9},
		{Symbol: "DOGEUSDT", QuoteVolume: 6e8},
		{Symbol: "BTCUSDT_250926", QuoteVolume: 1e10},
		{Symbol: "ETHBUSD", QuoteVolume: 1e10},
		{Symbol: "LUNAUSDT", QuoteVolume: 1e10},
		{Symbol: "TINYUSDT", QuoteVolume: 4999},
	}

	got := RankUniverse(contracts, tickers, 5000, 10, "USDT")
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT"}, got)
}

func TestRankUniverseTopNAndTies(t *testing.T) {
	contracts := []models.ContractInfo{perp("AUSDT"), perp("BUSDT"), perp("CUSDT"), perp("DUSDT")}
	tickers := []models.Ticker24h{
		{Symbol: "AUSDT", QuoteVolume: 100},
		{Symbol: "BUSDT", QuoteVolume: 300},
		{Symbol: "CUSDT", QuoteVolume: 300},
		{Symbol: "DUSDT", QuoteVolume: 200},
	}

	// equal volumes keep exchange order
	assert.Equal(t, []string{"BUSDT", "CUSDT", "DUSDT"}, RankUniverse(contracts, tickers, 0, 3, "USDT"))
	assert.Equal(t, []string{"BUSDT", "CUSDT", "DUSDT", "AUSDT"}, RankUniverse(contracts, tickers, 0, 0, "usdt"))
	assert.Empty(t, RankUniverse(contracts, tickers, 1e6, 3, "USDT"))
}

func TestUniverseSelectorSelect(t *testing.T) {
	md := &fakeMarketData{
		contracts: []models.ContractInfo{perp("BTCUSDT"), perp("ETHUSDT")},
		tickers: []models.Ticker24h{
			{Symbol: "BTCUSDT", QuoteVolume: 2e9},
			{Symbol: "ETHUSDT", QuoteVolume: 3e9},
		},
	}
	sel := NewUniverseSelector(md, UniverseConfig{QuoteAsset: "USDT", MinQuoteVolume24h: 5000, TopN: 150}, metrics.Nop{}, nil)

	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, sel.Select(context.Background()))
}

func TestUniverseSelectorFailuresYieldEmpty(t *testing.T) {
	cfg := UniverseConfig{QuoteAsset: "USDT", TopN: 10}

	md := &fakeMarketData{infoErr: errors.New("exchangeInfo: 418")}
	assert.Empty(t, NewUniverseSelector(md, cfg, metrics.Nop{}, nil).Select(context.Background()))
	assert.Zero(t, md.tickerHits)

	md = &fakeMarketData{contracts: []models.ContractInfo{perp("BTCUSDT")}, tickerErr: errors.New("timeout")}
	assert.Empty(t, NewUniverseSelector(md, cfg, metrics.Nop{}, nil).Select(context.Background()))
}
