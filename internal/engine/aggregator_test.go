package engine

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pulsestack/pulse-detect/internal/models"
)

func sampleAt(base time.Time, minute int, success bool, latencyMs int) models.HealthSample {
	return models.HealthSample{
		TargetID:  "checkout-api",
		Timestamp: base.Add(time.Duration(minute) * time.Minute),
		Success:   success,
		LatencyMs: latencyMs,
	}
}

func TestAggregateConsecutiveFailures(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	samples := []models.HealthSample{
		sampleAt(base, 0, false, 0),
		sampleAt(base, 1, false, 0),
		sampleAt(base, 2, true, 100),
		sampleAt(base, 3, false, 0),
		sampleAt(base, 4, false, 0),
		sampleAt(base, 5, false, 0),
	}

	agg := NewAggregator(10, time.Hour)
	got := agg.Aggregate("checkout-api", samples, samples[len(samples)-1])

	want := models.TargetMetrics{
		TargetID:            "checkout-api",
		ConsecutiveFailures: 3,
		AvgLatencyMs:        100,
		ErrorRateLastHour:   5.0 / 6.0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateStreakBoundedByLookback(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	samples := make([]models.HealthSample, 0, 20)
	for i := 0; i < 20; i++ {
		samples = append(samples, sampleAt(base, i, false, 0))
	}

	agg := NewAggregator(10, time.Hour)
	got := agg.Aggregate("checkout-api", samples, samples[len(samples)-1])
	if got.ConsecutiveFailures != 10 {
		t.Fatalf("expected streak capped at 10, got %d", got.ConsecutiveFailures)
	}
}

func TestAggregateLatencyIgnoresFailures(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	samples := []models.HealthSample{
		sampleAt(base, 0, true, 200),
		sampleAt(base, 1, false, 9000),
		sampleAt(base, 2, true, 400),
	}

	agg := NewAggregator(10, time.Hour)
	got := agg.Aggregate("checkout-api", samples, samples[len(samples)-1])
	if got.AvgLatencyMs != 300 {
		t.Fatalf("expected avg latency 300, got %f", got.AvgLatencyMs)
	}
}

func TestAggregateErrorRateWindow(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	samples := []models.HealthSample{
		sampleAt(base, -120, false, 0), // outside the hour
		sampleAt(base, -90, false, 0),  // outside the hour
		sampleAt(base, -30, false, 0),
		sampleAt(base, -15, true, 100),
		sampleAt(base, 0, true, 100),
	}

	agg := NewAggregator(10, time.Hour)
	got := agg.Aggregate("checkout-api", samples, samples[len(samples)-1])
	if got.ErrorRateLastHour != 1.0/3.0 {
		t.Fatalf("expected error rate 1/3, got %f", got.ErrorRateLastHour)
	}
}

func TestAggregateEmptyHistoryDegrades(t *testing.T) {
	latest := models.HealthSample{
		TargetID:  "new-target",
		Timestamp: time.Now(),
		Success:   false,
	}

	agg := NewAggregator(10, time.Hour)
	got := agg.Aggregate("new-target", nil, latest)
	if got.ConsecutiveFailures != 1 {
		t.Fatalf("expected streak 1, got %d", got.ConsecutiveFailures)
	}
	if got.AvgLatencyMs != 0 {
		t.Fatalf("expected zero latency with no successes, got %f", got.AvgLatencyMs)
	}
	if got.ErrorRateLastHour != 1 {
		t.Fatalf("expected error rate 1, got %f", got.ErrorRateLastHour)
	}
}
