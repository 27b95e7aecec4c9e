package service

import (
	"FinPulse/internal/domain/models"
)

// SkipReason explains why a symbol produced no result in a scoring run.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipInsufficientKlines
	SkipInsufficientReturns
	SkipBelowMinReturn
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipInsufficientKlines:
		return "insufficient_klines"
	case SkipInsufficientReturns:
		return "insufficient_returns"
	case SkipBelowMinReturn:
		return "below_min_return"
	default:
		return "unknown"
	}
}

// AnomalyScorer scores the latest bucket of an ascending candle window.
// A result is only meaningful when the returned reason is SkipNone.
type AnomalyScorer interface {
	Score(symbol string, candles []models.Candle, quoteVolume24h float64) (models.AnomalyResult, SkipReason)
}
