package models

import (
	"strings"
	"time"
)

// Reason is a classification tag attached to an AnomalyResult.
type Reason string

const (
	ReasonPrice      Reason = "价格"
	ReasonVolume     Reason = "成交量"
	ReasonVolatility Reason = "波动率"
	ReasonComposite  Reason = "综合"
	ReasonNormal     Reason = "正常"
)

const reasonSep = "+"

// AnomalyResult is the scoring output for one symbol and one scored bucket.
// Identity is (Symbol, Timestamp, IntervalType).
type AnomalyResult struct {
	Symbol       string `db:"symbol" json:"symbol"`
	Timestamp    int64  `db:"timestamp" json:"timestamp"` // scored bucket start, epoch seconds
	IntervalType string `db:"interval_type" json:"interval_type"`

	CurReturn     float64 `db:"cur_return" json:"cur_return"`
	CurAbsReturn  float64 `db:"cur_abs_return" json:"cur_abs_return"`
	ClosePrice    float64 `db:"close_price" json:"close_price"`
	CurVolume     float64 `db:"cur_volume" json:"cur_volume"`
	CurVolatility float64 `db:"cur_volatility" json:"cur_volatility"`

	PriceZScore      float64 `db:"price_zscore" json:"price_zscore"`
	PricePercentile  float64 `db:"price_percentile" json:"price_percentile"`
	VolumeZScore     float64 `db:"volume_zscore" json:"volume_zscore"`
	VolatilityZScore float64 `db:"volatility_zscore" json:"volatility_zscore"`

	PriceScore      float64 `db:"price_score" json:"price_score"`
	VolumeScore     float64 `db:"volume_score" json:"volume_score"`
	VolatilityScore float64 `db:"volatility_score" json:"volatility_score"`
	AnomalyScore    float64 `db:"anomaly_score" json:"anomaly_score"`

	Reasons        []Reason  `db:"-" json:"reasons"`
	QuoteVolume24h float64   `db:"quote_volume_24h" json:"quote_volume_24h"`
	IsAnomaly      bool      `db:"is_anomaly" json:"is_anomaly"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ReasonsString joins the tags into their persisted form, e.g. "价格+成交量".
func (r AnomalyResult) ReasonsString() string { return JoinReasons(r.Reasons) }

// HasReason reports whether tag is present.
func (r AnomalyResult) HasReason(tag Reason) bool {
	for _, x := range r.Reasons {
		if x == tag {
			return true
		}
	}
	return false
}

// JoinReasons renders tags with the "+" separator.
func JoinReasons(rs []Reason) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, reasonSep)
}

// ParseReasons is the inverse of JoinReasons.
func ParseReasons(s string) []Reason {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, reasonSep)
	out := make([]Reason, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, Reason(p))
		}
	}
	return out
}
