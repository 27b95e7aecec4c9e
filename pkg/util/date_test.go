package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatters(t *testing.T) {
	sec := time.Date(2024, 3, 1, 12, 15, 0, 0, time.UTC).Unix()
	assert.Equal(t, "2024-03-01T12:15:00Z", UnixISO(sec))
	assert.Equal(t, "2024-03-01T12:15:00Z", UnixMilliISO(sec*1000))
	assert.Equal(t, "12:15:00", ClockTime(sec))
}

func TestHoursCeil(t *testing.T) {
	assert.Equal(t, 24, HoursCeil(24*time.Hour))
	assert.Equal(t, 1, HoursCeil(90*time.Second))
	assert.Equal(t, 0, HoursCeil(0))
	assert.Equal(t, -1, HoursCeil(-time.Second))
}
