package models

import (
	"fmt"
	"time"
)

// Candle is one fixed-width kline bucket for a symbol, keyed by (Symbol, OpenTime).
type Candle struct {
	Symbol      string    `db:"symbol" json:"symbol"`
	OpenTime    int64     `db:"open_time" json:"open_time"`   // bucket start, epoch ms
	CloseTime   int64     `db:"close_time" json:"close_time"` // bucket end, epoch ms
	Open        float64   `db:"open_price" json:"open"`
	High        float64   `db:"high_price" json:"high"`
	Low         float64   `db:"low_price" json:"low"`
	Close       float64   `db:"close_price" json:"close"`
	Volume      float64   `db:"volume" json:"volume"`
	QuoteVolume float64   `db:"quote_volume" json:"quote_volume"`
	TradesCount int64     `db:"trades_count" json:"trades_count"`
	IngestedAt  time.Time `db:"ingested_at" json:"ingested_at"`

	// Closed mirrors the feed's "bucket is final" flag. Not persisted.
	Closed bool `db:"-" json:"-"`
}

// OpenAt returns the bucket start as a time.
func (c Candle) OpenAt() time.Time { return time.UnixMilli(c.OpenTime).UTC() }

// Key returns the identity of the candle.
func (c Candle) Key() string { return fmt.Sprintf("%s:%d", c.Symbol, c.OpenTime) }

// Validate rejects candles that cannot be persisted.
func (c *Candle) Validate() error {
	if c == nil {
		return fmt.Errorf("candle nil")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if c.OpenTime <= 0 {
		return fmt.Errorf("open_time invalid: %d", c.OpenTime)
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("non-positive price for %s@%d", c.Symbol, c.OpenTime)
	}
	if c.Volume < 0 || c.QuoteVolume < 0 || c.TradesCount < 0 {
		return fmt.Errorf("negative volume/trades for %s@%d", c.Symbol, c.OpenTime)
	}
	return nil
}
