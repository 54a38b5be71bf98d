package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels evaluations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels evaluations that failed (dependency or persistence issues).
	OutcomeError = "error"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_detect",
			Name:      "evaluations_total",
			Help:      "Total number of target evaluations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	evaluationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pulse_detect",
			Name:      "evaluation_seconds",
			Help:      "Target evaluation latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	rulesFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_detect",
			Name:      "rules_fired_total",
			Help:      "Rule firings that passed the cooldown check, by rule id.",
		},
		[]string{"rule"},
	)

	rulesSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_detect",
			Name:      "rules_suppressed_total",
			Help:      "Rule evaluations skipped by an active cooldown, by rule id.",
		},
		[]string{"rule"},
	)

	incidentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_detect",
			Name:      "incidents_created_total",
			Help:      "Incidents opened by the detection engine, by severity.",
		},
		[]string{"severity"},
	)

	persistenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulse_detect",
			Name:      "persistence_failures_total",
			Help:      "Incident store writes that failed after a rule fired.",
		},
	)
)

// Register attaches pulse-detect collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationDurationSeconds,
		rulesFiredTotal,
		rulesSuppressedTotal,
		incidentsCreatedTotal,
		persistenceFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records an evaluation duration and outcome label.
func ObserveEvaluation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	evaluationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationDurationSeconds.Observe(duration.Seconds())
}

// RuleFired increments the firing counter for a rule.
func RuleFired(ruleID string) {
	rulesFiredTotal.WithLabelValues(ruleID).Inc()
}

// RuleSuppressed increments the suppression counter for a rule.
func RuleSuppressed(ruleID string) {
	rulesSuppressedTotal.WithLabelValues(ruleID).Inc()
}

// IncidentCreated increments the creation counter for a severity.
func IncidentCreated(severity string) {
	incidentsCreatedTotal.WithLabelValues(severity).Inc()
}

// PersistenceFailure increments the failed-write counter.
func PersistenceFailure() {
	persistenceFailuresTotal.Inc()
}
