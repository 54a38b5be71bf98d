package engine

import (
	"time"

	"github.com/pulsestack/pulse-detect/internal/models"
)

const (
	// DefaultLookbackSamples bounds the streak and latency windows.
	DefaultLookbackSamples = 10
	// DefaultErrorRateWindow is the trailing window for the hourly error rate.
	DefaultErrorRateWindow = time.Hour
)

// Aggregator derives a TargetMetrics snapshot from a target's recent samples.
// It is a pure computation: sparse or missing history degrades to zero
// defaults rather than errors.
type Aggregator struct {
	lookback    int
	errorWindow time.Duration
}

// NewAggregator creates an aggregator with the given lookback bound and
// error-rate window. Non-positive values fall back to the defaults.
func NewAggregator(lookback int, errorWindow time.Duration) *Aggregator {
	if lookback <= 0 {
		lookback = DefaultLookbackSamples
	}
	if errorWindow <= 0 {
		errorWindow = DefaultErrorRateWindow
	}
	return &Aggregator{lookback: lookback, errorWindow: errorWindow}
}

// Aggregate computes metrics for the target given its recent samples ordered
// oldest to newest. latest is appended to the window if the caller has not
// already included it.
func (a *Aggregator) Aggregate(targetID string, samples []models.HealthSample, latest models.HealthSample) models.TargetMetrics {
	window := samples
	if len(window) == 0 || !window[len(window)-1].Timestamp.Equal(latest.Timestamp) {
		window = append(append([]models.HealthSample(nil), samples...), latest)
	}

	return models.TargetMetrics{
		TargetID:            targetID,
		ConsecutiveFailures: a.consecutiveFailures(window),
		AvgLatencyMs:        a.avgLatency(window),
		ErrorRateLastHour:   a.errorRate(window, latest.Timestamp),
	}
}

// consecutiveFailures counts trailing failures ending at the newest sample,
// stopping at the first success and never scanning past the lookback bound.
func (a *Aggregator) consecutiveFailures(window []models.HealthSample) int {
	count := 0
	for i := len(window) - 1; i >= 0 && count < a.lookback; i-- {
		if window[i].Success {
			break
		}
		count++
	}
	return count
}

// avgLatency averages latency over the most recent successful samples, up to
// the lookback bound. Returns 0 when no successes are in view.
func (a *Aggregator) avgLatency(window []models.HealthSample) float64 {
	sum := 0
	n := 0
	for i := len(window) - 1; i >= 0 && n < a.lookback; i-- {
		if !window[i].Success {
			continue
		}
		sum += window[i].LatencyMs
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// errorRate computes failed/total over samples inside the trailing window
// anchored at ref. An empty window yields 0, never a division by zero.
func (a *Aggregator) errorRate(window []models.HealthSample, ref time.Time) float64 {
	cutoff := ref.Add(-a.errorWindow)
	total := 0
	failed := 0
	for _, s := range window {
		if s.Timestamp.Before(cutoff) || s.Timestamp.After(ref) {
			continue
		}
		total++
		if !s.Success {
			failed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
