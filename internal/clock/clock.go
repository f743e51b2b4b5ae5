// Package clock provides the timestamp and duration formatting used across
// state and reporting.
package clock

import (
	"math"
	"time"
)

// NowISO returns the current local time as a second-precision RFC3339
// timestamp with numeric zone offset.
func NowISO() string {
	return FormatISO(time.Now())
}

// FormatISO formats t the same way NowISO formats the current time.
func FormatISO(t time.Time) string {
	return t.Round(time.Second).Format("2006-01-02T15:04:05-07:00")
}

// DurationSec returns end-start in seconds, rounded to millisecond
// precision.
func DurationSec(start, end time.Time) float64 {
	return math.Round(end.Sub(start).Seconds()*1000) / 1000
}
