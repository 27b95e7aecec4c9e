package models

import "time"

// ContractInfo is the subset of exchange metadata used for universe selection.
type ContractInfo struct {
	Symbol       string
	ContractType string // PERPETUAL, CURRENT_QUARTER, ...
	QuoteAsset   string
	Status       string // TRADING, SETTLING, ...
}

// Ticker24h carries rolling 24h statistics for one symbol.
type Ticker24h struct {
	Symbol         string
	QuoteVolume    float64
	LastPrice      float64
	PriceChangePct float64
}

// RetentionPolicy bounds stored data. MaxAge < 0 disables age-based deletion,
// MaxRowsPerSymbol <= 0 and MaxStoreSizeBytes <= 0 disable their caps.
type RetentionPolicy struct {
	MaxAge            time.Duration
	MaxRowsPerSymbol  int
	MaxStoreSizeBytes int64
}

// SweepReport holds per-table deletion counts of one retention sweep.
type SweepReport struct {
	Candles       int64 `json:"klines"`
	CandlesExcess int64 `json:"klines_excess"`
	Anomalies     int64 `json:"anomalies"`
	Vacuumed      bool  `json:"vacuumed"`
}

// Total returns the number of rows deleted across tables.
func (r SweepReport) Total() int64 { return r.Candles + r.CandlesExcess + r.Anomalies }

// StoreStats summarises store contents.
type StoreStats struct {
	SymbolCount   int64      `json:"symbol_count"`
	CandleCount   int64      `json:"kline_count"`
	AnomalyCount  int64      `json:"anomaly_count"`
	Anomalies24h  int64      `json:"anomaly_count_24h"`
	SizeBytes     int64      `json:"size_bytes"`
	OldestCandle  *time.Time `json:"oldest_kline,omitempty"`
	OldestAnomaly *time.Time `json:"oldest_anomaly,omitempty"`
}
