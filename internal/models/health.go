package models

import "time"

// HealthSample is one health-check result for a target, produced by the
// probe collaborator. Samples arrive ordered by timestamp per target.
type HealthSample struct {
	TargetID     string    `json:"target_id"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	LatencyMs    int       `json:"latency_ms,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// TargetMetrics is a derived snapshot of a target's recent health. It is
// recomputed on every evaluation and never persisted.
type TargetMetrics struct {
	TargetID            string
	ConsecutiveFailures int
	AvgLatencyMs        float64
	ErrorRateLastHour   float64
}
