package repository

import "time"

// Interval represents candle bucket width.
type Interval string

const (
	Interval15m Interval = "15m"
)

// IsValidInterval returns true if iv is a supported interval.
func IsValidInterval(iv Interval) bool {
	switch iv {
	case Interval15m:
		return true
	default:
		return false
	}
}

// DefaultInterval returns the default interval.
func DefaultInterval() Interval { return Interval15m }

// NormalizeInterval converts raw string to a valid interval (or default).
func NormalizeInterval(s string) Interval {
	if s == "" {
		return DefaultInterval()
	}
	iv := Interval(s)
	if IsValidInterval(iv) {
		return iv
	}
	return DefaultInterval()
}

// BucketWidth returns the duration of one bucket.
func (iv Interval) BucketWidth() time.Duration {
	switch iv {
	case Interval15m:
		return 15 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// BucketStart aligns t to the start of its bucket.
func (iv Interval) BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(iv.BucketWidth())
}
