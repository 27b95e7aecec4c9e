package models

import "time"

// Requests for the query endpoints.

type AnomaliesRequest struct {
	Interval    string  `query:"interval" json:"interval" default:"15m" validate:"oneof=15m"`
	Hours       int     `query:"hours" json:"hours" default:"24" validate:"gte=1,lte=720"`
	Limit       int     `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
	MinScore    float64 `query:"min_score" json:"min_score" default:"0" validate:"gte=0"`
	AnomalyOnly bool    `query:"anomaly_only" json:"anomaly_only"`
}

type TopAnomaliesRequest struct {
	Hours int `query:"hours" json:"hours" default:"24" validate:"gte=1,lte=720"`
	Limit int `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=200"`
}

type KlinesRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// Views returned by the query endpoints. Numbers are already rounded.

type AnomalyView struct {
	Symbol            string    `json:"symbol"`
	Timestamp         int64     `json:"timestamp"`
	Datetime          string    `json:"datetime"`
	IntervalType      string    `json:"interval_type"`
	CurrentReturnPct  float64   `json:"current_return_pct"`
	ClosePrice        float64   `json:"close_price"`
	CurrentVolume     float64   `json:"current_volume"`
	CurrentVolatility float64   `json:"current_volatility"`
	PriceZScore       float64   `json:"price_zscore"`
	PricePercentile   float64   `json:"price_percentile"`
	VolumeZScore      float64   `json:"volume_zscore"`
	VolatilityZScore  float64   `json:"volatility_zscore"`
	AnomalyScore      float64   `json:"anomaly_score"`
	PriceScore        float64   `json:"price_score"`
	VolumeScore       float64   `json:"volume_score"`
	VolatilityScore   float64   `json:"volatility_score"`
	AnomalyReasons    string    `json:"anomaly_reasons"`
	QuoteVolume24h    float64   `json:"quote_volume_24h"`
	CreatedAt         time.Time `json:"created_at"`
}

type AnomaliesView struct {
	Count   int              `json:"count"`
	Data    []AnomalyView    `json:"data"`
	Filters AnomaliesRequest `json:"filters"`
}

type TopAnomalyView struct {
	Rank             int     `json:"rank"`
	Symbol           string  `json:"symbol"`
	CurrentReturnPct float64 `json:"current_return_pct"`
	AnomalyScore     float64 `json:"anomaly_score"`
	PriceZScore      float64 `json:"price_zscore"`
	VolumeZScore     float64 `json:"volume_zscore"`
	VolatilityZScore float64 `json:"volatility_zscore"`
	QuoteVolume24h   int64   `json:"quote_volume_24h"`
	AnomalyReasons   string  `json:"anomaly_reasons"`
	Datetime         string  `json:"datetime"`
}

type KlineView struct {
	Timestamp   int64   `json:"timestamp"`
	Datetime    string  `json:"datetime"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quote_volume"`
}

type KlinesView struct {
	Symbol string      `json:"symbol"`
	Count  int         `json:"count"`
	Data   []KlineView `json:"data"`
}

type StoreView struct {
	SizeMB               float64           `json:"size_mb"`
	MaxAgeHours          int               `json:"max_age_hours"`
	SymbolCount          int64             `json:"symbol_count"`
	KlineCount           int64             `json:"kline_count"`
	AnomalyCount         int64             `json:"anomaly_count"`
	AnomalyCount24h      int64             `json:"anomaly_count_24h"`
	AutoCleanup          bool              `json:"auto_cleanup"`
	CleanupIntervalHours int               `json:"cleanup_interval_hours"`
	OldestData           map[string]string `json:"oldest_data,omitempty"`
}

type IngestionView struct {
	State      string `json:"state"`
	Symbols    int    `json:"symbols"`
	Reconnects int    `json:"reconnects"`
	Connected  bool   `json:"connected"`
}

type HealthView struct {
	Status     string         `json:"status"`
	Timestamp  int64          `json:"timestamp"`
	ServerTime string         `json:"server_time"`
	Store      StoreView      `json:"database"`
	Ingestion  *IngestionView `json:"ingestion,omitempty"`
}

type StatsView struct {
	MonitoredSymbols int64 `json:"monitored_symbols"`
	TotalKlines      int64 `json:"total_klines"`
	Anomalies24h     int64 `json:"anomalies_24h"`
	Anomalies1h      int   `json:"anomalies_1h"`
}
