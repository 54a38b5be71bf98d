package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pulsestack/pulse-detect/internal/metrics"
	"github.com/pulsestack/pulse-detect/internal/models"
)

// Predicate is a pure condition over the latest sample and the derived
// metrics snapshot. Predicates must not mutate their inputs.
type Predicate func(latest models.HealthSample, m models.TargetMetrics) bool

// DetectionRule couples a predicate with the severity and cooldown applied
// when it fires. Rules are immutable configuration held in catalogue order.
// Narrative, when set, shapes the human-facing incident description for the
// low-severity status-narrative rules.
type DetectionRule struct {
	ID          string
	Name        string
	Description string
	Severity    models.Severity
	Cooldown    time.Duration
	Narrative   models.Status
	Predicate   Predicate
}

// IncidentTitle renders the title for an incident created by this rule.
func (r DetectionRule) IncidentTitle(targetID string) string {
	return fmt.Sprintf("%s: %s", targetID, r.Name)
}

// IncidentDescription renders the incident body from the metrics snapshot.
func (r DetectionRule) IncidentDescription(targetID string, m models.TargetMetrics) string {
	detail := fmt.Sprintf(
		"%s on %s (consecutive failures: %d, avg latency: %.0fms, hourly error rate: %.0f%%)",
		r.Description, targetID, m.ConsecutiveFailures, m.AvgLatencyMs, m.ErrorRateLastHour*100,
	)
	if r.Narrative != "" {
		detail = fmt.Sprintf("[%s] %s", r.Narrative, detail)
	}
	return detail
}

// FiredRule records one rule firing during an evaluation.
type FiredRule struct {
	Rule    DetectionRule
	Metrics models.TargetMetrics
}

// RuleEngine evaluates the catalogue against metric snapshots, consulting
// the cooldown tracker before each predicate.
type RuleEngine struct {
	rules   []DetectionRule
	tracker Tracker
	logger  *slog.Logger
}

// NewRuleEngine builds an engine over the given catalogue and tracker.
func NewRuleEngine(rules []DetectionRule, tracker Tracker, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: rules, tracker: tracker, logger: logger}
}

// Evaluate runs the catalogue in order for one target. Suppressed rules are
// skipped without evaluating their predicate. Every firing records its
// cooldown immediately, before incident creation is attempted; losing the
// Record race counts as suppressed. A panicking predicate is logged and
// treated as not fired, and never blocks the remaining rules.
func (e *RuleEngine) Evaluate(ctx context.Context, targetID string, latest models.HealthSample, m models.TargetMetrics, now time.Time) []FiredRule {
	fired := make([]FiredRule, 0)
	for _, rule := range e.rules {
		if e.tracker.IsSuppressed(ctx, rule.ID, targetID, now) {
			metrics.RuleSuppressed(rule.ID)
			continue
		}
		if !e.eval(rule, targetID, latest, m) {
			continue
		}
		if !e.tracker.Record(ctx, rule.ID, targetID, now, rule.Cooldown) {
			metrics.RuleSuppressed(rule.ID)
			continue
		}
		metrics.RuleFired(rule.ID)
		fired = append(fired, FiredRule{Rule: rule, Metrics: m})
	}
	return fired
}

func (e *RuleEngine) eval(rule DetectionRule, targetID string, latest models.HealthSample, m models.TargetMetrics) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule predicate panicked",
				slog.String("rule_id", rule.ID),
				slog.String("target_id", targetID),
				slog.Any("panic", r))
			fired = false
		}
	}()
	if rule.Predicate == nil {
		return false
	}
	return rule.Predicate(latest, m)
}

// Rules returns the read-only catalogue view in evaluation order.
func (e *RuleEngine) Rules() []models.RuleInfo {
	infos := make([]models.RuleInfo, 0, len(e.rules))
	for _, rule := range e.rules {
		infos = append(infos, models.RuleInfo{
			ID:          rule.ID,
			Name:        rule.Name,
			Description: rule.Description,
			Severity:    rule.Severity,
			Cooldown:    rule.Cooldown,
		})
	}
	return infos
}

// ClearCooldowns resets all suppression state.
func (e *RuleEngine) ClearCooldowns(ctx context.Context) error {
	return e.tracker.Clear(ctx)
}

// DefaultCatalog is the built-in rule set. Predicates for overlapping signal
// ranges are kept disjoint so a sustained outage maps to exactly one rule
// per evaluation instead of a fan of duplicates.
func DefaultCatalog() []DetectionRule {
	return []DetectionRule{
		{
			ID:          "consecutive-failures-critical",
			Name:        "5 consecutive failures",
			Description: "health checks failed 5 or more times in a row",
			Severity:    models.SeverityCritical,
			Cooldown:    30 * time.Minute,
			Predicate: func(_ models.HealthSample, m models.TargetMetrics) bool {
				return m.ConsecutiveFailures >= 5
			},
		},
		{
			ID:          "consecutive-failures-high",
			Name:        "3 consecutive failures",
			Description: "health checks failed 3 times in a row",
			Severity:    models.SeverityHigh,
			Cooldown:    20 * time.Minute,
			Predicate: func(_ models.HealthSample, m models.TargetMetrics) bool {
				return m.ConsecutiveFailures >= 3 && m.ConsecutiveFailures < 5
			},
		},
		{
			ID:          "high-average-latency",
			Name:        "high average latency",
			Description: "average response latency above 2000ms",
			Severity:    models.SeverityMedium,
			Cooldown:    30 * time.Minute,
			Predicate: func(_ models.HealthSample, m models.TargetMetrics) bool {
				return m.AvgLatencyMs > 2000
			},
		},
		{
			ID:          "high-error-rate",
			Name:        "high hourly error rate",
			Description: "more than half of the checks in the last hour failed",
			Severity:    models.SeverityHigh,
			Cooldown:    60 * time.Minute,
			Predicate: func(_ models.HealthSample, m models.TargetMetrics) bool {
				// Sustained streaks are covered by the consecutive-failure rules.
				return m.ErrorRateLastHour >= 0.5 && m.ConsecutiveFailures < 3
			},
		},
		{
			ID:          "single-sample-timeout",
			Name:        "health check timeout",
			Description: "latest health check timed out",
			Severity:    models.SeverityMedium,
			Cooldown:    15 * time.Minute,
			Predicate: func(latest models.HealthSample, _ models.TargetMetrics) bool {
				if latest.Success {
					return false
				}
				return latest.LatencyMs >= 10000 ||
					strings.Contains(strings.ToLower(latest.ErrorMessage), "timeout")
			},
		},
		{
			ID:          "error-rate-investigating",
			Name:        "elevated error rate",
			Description: "intermittent check failures over the last hour",
			Severity:    models.SeverityLow,
			Cooldown:    30 * time.Minute,
			Narrative:   models.StatusInvestigating,
			Predicate: func(_ models.HealthSample, m models.TargetMetrics) bool {
				return m.ErrorRateLastHour >= 0.1 && m.ErrorRateLastHour < 0.5 &&
					m.ConsecutiveFailures > 0 && m.ConsecutiveFailures < 3
			},
		},
		{
			ID:          "degraded-latency-identified",
			Name:        "degraded latency",
			Description: "average response latency between 1000ms and 2000ms",
			Severity:    models.SeverityLow,
			Cooldown:    45 * time.Minute,
			Narrative:   models.StatusIdentified,
			Predicate: func(_ models.HealthSample, m models.TargetMetrics) bool {
				return m.AvgLatencyMs > 1000 && m.AvgLatencyMs <= 2000
			},
		},
		{
			ID:          "residual-errors-monitoring",
			Name:        "residual errors after recovery",
			Description: "checks pass again but the hourly error rate has not settled",
			Severity:    models.SeverityLow,
			Cooldown:    60 * time.Minute,
			Narrative:   models.StatusMonitoring,
			Predicate: func(latest models.HealthSample, m models.TargetMetrics) bool {
				return latest.Success && m.ConsecutiveFailures == 0 &&
					m.ErrorRateLastHour >= 0.05 && m.ErrorRateLastHour < 0.2
			},
		},
	}
}
