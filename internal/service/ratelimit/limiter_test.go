package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterRefills(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("BTCUSDT", 2, 2))
	assert.True(t, l.Allow("BTCUSDT", 2, 2))
	assert.False(t, l.Allow("BTCUSDT", 2, 2))

	// other keys have their own bucket
	assert.True(t, l.Allow("ETHUSDT", 2, 2))

	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("BTCUSDT", 2, 2))
	assert.False(t, l.Allow("BTCUSDT", 2, 2))

	l.Forget("BTCUSDT")
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Allow("BTCUSDT", 2, 2))
}
