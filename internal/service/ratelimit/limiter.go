package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key, created on first use with the
// capacity and refill rate of that call.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	now func() time.Time
}

func New() *Limiter { return NewWithClock(time.Now) }

// NewWithClock uses now as the time source.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{m: make(map[string]*rate.Limiter), now: now}
}

// Allow reports whether one token can be taken for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	l.mu.Lock()
	b, ok := l.m[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(refillPerSec), int(capacity))
		l.m[key] = b
	}
	l.mu.Unlock()
	return b.AllowN(l.now(), 1)
}

// Forget drops the bucket for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
