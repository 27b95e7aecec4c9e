package features

import (
	"math"
	"testing"

	"FinPulse/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func closes(vals ...float64) []models.Candle {
	out := make([]models.Candle, len(vals))
	for i, v := range vals {
		out[i] = models.Candle{Symbol: "X", OpenTime: int64(i + 1), Close: v, High: v + 1, Low: v - 1}
	}
	return out
}

func TestSimpleReturns(t *testing.T) {
	r := SimpleReturns(closes(100, 110, 99))
	assert.Len(t, r, 2)
	assert.InDelta(t, 0.1, r[0], 1e-12)
	assert.InDelta(t, -0.1, r[1], 1e-12)

	assert.Nil(t, SimpleReturns(closes(100)))
}

func TestRangePct(t *testing.T) {
	r := RangePct(closes(100, 50))
	assert.InDelta(t, 2.0, r[0], 1e-12)
	assert.InDelta(t, 4.0, r[1], 1e-12)
}

func TestPopStdUsesPopulationDenominator(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(xs), 1e-12)
	assert.InDelta(t, 2.0, PopStd(xs), 1e-12)
	assert.Zero(t, PopStd(nil))
}

func TestZScore(t *testing.T) {
	hist := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.5, ZScore(10, hist), 1e-12)
	assert.InDelta(t, -1.5, ZScore(2, hist), 1e-12)

	// flat history is defined as zero, not a division by zero
	assert.Equal(t, 0.0, ZScore(1e9, []float64{3, 3, 3}))
	assert.False(t, math.IsNaN(ZScore(1, nil)))
}

func TestPercentileBelowIsStrict(t *testing.T) {
	hist := []float64{1, 2, 3, 4}
	assert.Equal(t, 50.0, PercentileBelow(3, hist))
	assert.Equal(t, 100.0, PercentileBelow(5, hist))
	assert.Equal(t, 0.0, PercentileBelow(1, hist))
	assert.Equal(t, 0.0, PercentileBelow(1, nil))
}

func TestAbsAndQuoteVolumes(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 0}, Abs([]float64{-1, 2, 0}))
	cs := []models.Candle{{QuoteVolume: 5}, {QuoteVolume: 7}}
	assert.Equal(t, []float64{5, 7}, QuoteVolumes(cs))
}
