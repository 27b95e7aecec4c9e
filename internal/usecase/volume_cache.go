package usecase

import (
	"context"
	"errors"
	"time"

	drepo "FinPulse/internal/domain/repository"
	"FinPulse/pkg/cache"
	applogger "FinPulse/pkg/logger"
)

const quoteVolumeKey = "tickers:24h:quote_volume"

// VolumeSource yields rolling 24h quote volumes by symbol.
type VolumeSource interface {
	QuoteVolumes(ctx context.Context) map[string]float64
}

// VolumeCache fronts the 24h ticker endpoint with a TTL cache.
type VolumeCache struct {
	md      drepo.MarketData
	cache   cache.Service
	ttl     time.Duration
	metrics drepo.Metrics
	l       *applogger.Logger
}

// NewVolumeCache creates a VolumeCache. A nil cache fetches on every call.
func NewVolumeCache(md drepo.MarketData, c cache.Service, ttl time.Duration, metrics drepo.Metrics, l *applogger.Logger) *VolumeCache {
	if l == nil {
		l = applogger.NewNop()
	}
	return &VolumeCache{md: md, cache: c, ttl: ttl, metrics: metrics, l: l}
}

// QuoteVolumes returns the cached snapshot or refreshes it. Upstream failure
// yields an empty map so every symbol reads as zero.
func (v *VolumeCache) QuoteVolumes(ctx context.Context) map[string]float64 {
	if v.cache != nil && v.ttl > 0 {
		var cached map[string]float64
		err := v.cache.Get(ctx, quoteVolumeKey, &cached)
		switch {
		case err == nil:
			return cached
		case !errors.Is(err, cache.ErrCacheMiss):
			v.metrics.RecordError("volume_cache_get")
			v.l.Warn("volume cache read failed", applogger.Error(err))
		}
	}

	tickers, err := v.md.Tickers24h(ctx)
	if err != nil {
		v.metrics.RecordError("volume_fetch")
		v.l.Warn("24h tickers unavailable, using zero volumes", applogger.Error(err))
		return map[string]float64{}
	}
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		out[t.Symbol] = t.QuoteVolume
	}

	if v.cache != nil && v.ttl > 0 {
		if err := v.cache.Set(ctx, quoteVolumeKey, out, v.ttl); err != nil {
			v.metrics.RecordError("volume_cache_set")
			v.l.Warn("volume cache write failed", applogger.Error(err))
		}
	}
	return out
}
