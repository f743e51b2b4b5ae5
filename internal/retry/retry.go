// Package retry implements the deterministic backoff schedule and
// retryable-outcome classification used by the run engine, instrumented
// with the same per-attempt OTel counters idiom the teacher's resilience
// package uses for its generic Retry helper — without that helper's jitter,
// which this domain's spec explicitly excludes.
package retry

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the counters incremented as tasks are classified for retry.
type Metrics struct {
	retriesTotal metric.Int64Counter
}

// NewMetrics builds the retry counters against meter.
func NewMetrics(meter metric.Meter) *Metrics {
	retries, _ := meter.Int64Counter("orch_task_retries_total")
	return &Metrics{retriesTotal: retries}
}

// RecordRetry increments the retry counter for taskID.
func (m *Metrics) RecordRetry(ctx context.Context, taskID string) {
	if m == nil || m.retriesTotal == nil {
		return
	}
	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("task_id", taskID)))
}

// BackoffForAttempt returns the wait duration before attemptIdx (0-based).
// If schedule is non-empty, the entry at min(attemptIdx, len(schedule)-1)
// is used; otherwise the wait is min(60s, 2^attemptIdx seconds). No
// jitter — unlike the teacher's generic retry helper, this schedule must be
// exactly reproducible for a given attempt index.
func BackoffForAttempt(attemptIdx int, schedule []float64) time.Duration {
	if len(schedule) > 0 {
		idx := attemptIdx
		if idx >= len(schedule) {
			idx = len(schedule) - 1
		}
		if idx < 0 {
			idx = 0
		}
		return time.Duration(schedule[idx] * float64(time.Second))
	}
	seconds := math.Min(60, math.Pow(2, float64(attemptIdx)))
	return time.Duration(seconds * float64(time.Second))
}

// Outcome is the subset of a task attempt's result the retry policy cares
// about.
type Outcome struct {
	TimedOut    bool
	ExitCode    *int
	Canceled    bool
	StartFailed bool
}

// ShouldRetry reports whether attempt (1-based, the attempt that just
// finished) should be retried given retries (the plan's configured retry
// budget) and the outcome it produced.
func ShouldRetry(attempt, retries int, outcome Outcome) bool {
	if attempt >= retries+1 {
		return false
	}
	if outcome.Canceled || outcome.StartFailed {
		return false
	}
	cleanExit := outcome.ExitCode != nil && *outcome.ExitCode == 0
	return outcome.TimedOut || !cleanExit
}
