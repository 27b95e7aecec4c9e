package analytics

import (
	"math"

	"FinPulse/internal/domain/models"
	domsvc "FinPulse/internal/domain/service"
	"FinPulse/internal/services/features"
	"FinPulse/pkg/config"
)

// Params are the thresholds and weights of the scoring model.
type Params struct {
	Interval          string
	MinKlines         int
	MinHistoryReturns int

	PriceZ          float64
	PricePercentile float64
	VolumeZ         float64
	VolatilityZ     float64
	MinAbsReturn    float64

	WeightPrice      float64
	WeightVolume     float64
	WeightVolatility float64

	CompositeThreshold float64
}

// DefaultParams returns the production thresholds.
func DefaultParams() Params {
	return Params{
		Interval:           "15m",
		MinKlines:          16,
		MinHistoryReturns:  5,
		PriceZ:             2.5,
		PricePercentile:    92,
		VolumeZ:            2.0,
		VolatilityZ:        2.0,
		MinAbsReturn:       0.005,
		WeightPrice:        0.4,
		WeightVolume:       0.3,
		WeightVolatility:   0.3,
		CompositeThreshold: 0.5,
	}
}

// ParamsFromConfig maps the scoring section of the app config.
func ParamsFromConfig(cfg *config.Config) Params {
	s := cfg.Scoring
	return Params{
		Interval:           cfg.Ingestion.Interval,
		MinKlines:          s.MinKlines,
		MinHistoryReturns:  s.MinHistoryReturns,
		PriceZ:             s.PriceZThreshold,
		PricePercentile:    s.PricePercentile,
		VolumeZ:            s.VolumeZThreshold,
		VolatilityZ:        s.VolatilityZThreshold,
		MinAbsReturn:       s.MinAbsReturn,
		WeightPrice:        s.WeightPrice,
		WeightVolume:       s.WeightVolume,
		WeightVolatility:   s.WeightVolatility,
		CompositeThreshold: s.CompositeThreshold,
	}
}

// Scorer is the statistical anomaly model. It holds no state between calls.
type Scorer struct {
	p Params
}

var _ domsvc.AnomalyScorer = (*Scorer)(nil)

func NewScorer(p Params) *Scorer {
	if p.MinHistoryReturns < 1 {
		p.MinHistoryReturns = 1
	}
	if p.Interval == "" {
		p.Interval = "15m"
	}
	return &Scorer{p: p}
}

// Params returns the active parameters.
func (s *Scorer) Params() Params { return s.p }

// Score evaluates the last candle of an ascending window against the rest.
func (s *Scorer) Score(symbol string, candles []models.Candle, quoteVolume24h float64) (models.AnomalyResult, domsvc.SkipReason) {
	if len(candles) < s.p.MinKlines || len(candles) < 2 {
		return models.AnomalyResult{}, domsvc.SkipInsufficientKlines
	}

	returns := features.SimpleReturns(candles)
	histReturns := returns[:len(returns)-1]
	if len(histReturns) < s.p.MinHistoryReturns {
		return models.AnomalyResult{}, domsvc.SkipInsufficientReturns
	}
	curRet := returns[len(returns)-1]
	curAbs := math.Abs(curRet)
	if curAbs < s.p.MinAbsReturn {
		return models.AnomalyResult{}, domsvc.SkipBelowMinReturn
	}

	absHist := features.Abs(histReturns)
	priceZ := features.ZScore(curAbs, absHist)
	pricePct := features.PercentileBelow(curAbs, absHist)

	volumes := features.QuoteVolumes(candles)
	curVolume := volumes[len(volumes)-1]
	volumeZ := features.ZScore(curVolume, volumes[:len(volumes)-1])

	ranges := features.RangePct(candles)
	curVolatility := ranges[len(ranges)-1]
	volatilityZ := features.ZScore(curVolatility, ranges[:len(ranges)-1])

	priceScore := math.Max(priceZ-s.p.PriceZ, 0) + math.Max(pricePct-s.p.PricePercentile, 0)/10
	volumeScore := math.Max(math.Abs(volumeZ)-s.p.VolumeZ, 0)
	volatilityScore := math.Max(volatilityZ-s.p.VolatilityZ, 0)
	composite := s.p.WeightPrice*priceScore + s.p.WeightVolume*volumeScore + s.p.WeightVolatility*volatilityScore

	reasons := make([]models.Reason, 0, 3)
	if priceZ >= s.p.PriceZ || pricePct >= s.p.PricePercentile {
		reasons = append(reasons, models.ReasonPrice)
	}
	if math.Abs(volumeZ) >= s.p.VolumeZ {
		reasons = append(reasons, models.ReasonVolume)
	}
	if volatilityZ >= s.p.VolatilityZ {
		reasons = append(reasons, models.ReasonVolatility)
	}
	if len(reasons) == 0 && composite >= s.p.CompositeThreshold {
		reasons = append(reasons, models.ReasonComposite)
	}
	isAnomaly := len(reasons) > 0
	if !isAnomaly {
		reasons = append(reasons, models.ReasonNormal)
	}

	last := candles[len(candles)-1]
	return models.AnomalyResult{
		Symbol:           symbol,
		Timestamp:        last.OpenTime / 1000,
		IntervalType:     s.p.Interval,
		CurReturn:        curRet,
		CurAbsReturn:     curAbs,
		ClosePrice:       last.Close,
		CurVolume:        curVolume,
		CurVolatility:    curVolatility,
		PriceZScore:      priceZ,
		PricePercentile:  pricePct,
		VolumeZScore:     volumeZ,
		VolatilityZScore: volatilityZ,
		PriceScore:       priceScore,
		VolumeScore:      volumeScore,
		VolatilityScore:  volatilityScore,
		AnomalyScore:     composite,
		Reasons:          reasons,
		QuoteVolume24h:   quoteVolume24h,
		IsAnomaly:        isAnomaly,
	}, domsvc.SkipNone
}
