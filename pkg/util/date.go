package util

import "time"

// UnixISO renders epoch seconds as RFC3339 in UTC.
func UnixISO(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

// UnixMilliISO renders epoch milliseconds as RFC3339 in UTC.
func UnixMilliISO(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// ClockTime renders epoch seconds as HH:MM:SS in UTC.
func ClockTime(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.TimeOnly)
}

// HoursCeil returns d in whole hours, rounded up. Negative durations yield -1.
func HoursCeil(d time.Duration) int {
	if d < 0 {
		return -1
	}
	h := d / time.Hour
	if d%time.Hour != 0 {
		h++
	}
	return int(h)
}
