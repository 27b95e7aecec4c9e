package features

import (
	"math"

	"FinPulse/internal/domain/models"
)

// SimpleReturns computes r_t = (C_t - C_{t-1}) / C_{t-1}.
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func SimpleReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

// RangePct computes (high - low) / close * 100 per candle.
func RangePct(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		if c.Close <= 0 {
			continue
		}
		out[i] = (c.High - c.Low) / c.Close * 100
	}
	return out
}

// QuoteVolumes extracts the quote-notional volume series.
func QuoteVolumes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.QuoteVolume
	}
	return out
}

// Abs returns |x| element-wise.
func Abs(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Abs(x)
	}
	return out
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// PopStd is the population standard deviation (divides by n).
func PopStd(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// ZScore returns (x - mean(hist)) / std(hist), or 0 when std is exactly 0.
func ZScore(x float64, hist []float64) float64 {
	std := PopStd(hist)
	if std == 0 {
		return 0
	}
	return (x - Mean(hist)) / std
}

// PercentileBelow is the share of hist strictly below x, times 100.
func PercentileBelow(x float64, hist []float64) float64 {
	if len(hist) == 0 {
		return 0
	}
	n := 0
	for _, h := range hist {
		if h < x {
			n++
		}
	}
	return float64(n) / float64(len(hist)) * 100
}
