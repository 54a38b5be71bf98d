package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pulsestack/pulse-detect/internal/models"
)

func alwaysRule(id string, cooldown time.Duration) DetectionRule {
	return DetectionRule{
		ID:       id,
		Name:     id,
		Severity: models.SeverityLow,
		Cooldown: cooldown,
		Predicate: func(models.HealthSample, models.TargetMetrics) bool {
			return true
		},
	}
}

func TestEvaluateCooldownDebounce(t *testing.T) {
	ctx := context.Background()
	cooldown := 30 * time.Minute
	eng := NewRuleEngine([]DetectionRule{alwaysRule("rule-a", cooldown)}, NewMemoryTracker(), nil)

	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	latest := models.HealthSample{TargetID: "checkout-api", Timestamp: t0, Success: false}
	m := models.TargetMetrics{TargetID: "checkout-api"}

	if fired := eng.Evaluate(ctx, "checkout-api", latest, m, t0); len(fired) != 1 {
		t.Fatalf("expected rule to fire at t0, got %d", len(fired))
	}
	if fired := eng.Evaluate(ctx, "checkout-api", latest, m, t0.Add(cooldown/2)); len(fired) != 0 {
		t.Fatalf("expected suppression at t0+C/2, got %d firings", len(fired))
	}
	if fired := eng.Evaluate(ctx, "checkout-api", latest, m, t0.Add(cooldown+time.Second)); len(fired) != 1 {
		t.Fatalf("expected rule to fire again after cooldown, got %d", len(fired))
	}
}

func TestEvaluatePanicIsolation(t *testing.T) {
	broken := DetectionRule{
		ID:       "broken",
		Severity: models.SeverityLow,
		Cooldown: time.Minute,
		Predicate: func(models.HealthSample, models.TargetMetrics) bool {
			panic("boom")
		},
	}
	eng := NewRuleEngine([]DetectionRule{broken, alwaysRule("healthy", time.Minute)}, NewMemoryTracker(), nil)

	fired := eng.Evaluate(context.Background(), "checkout-api", models.HealthSample{}, models.TargetMetrics{}, time.Now())
	if len(fired) != 1 {
		t.Fatalf("expected the healthy rule to fire despite the broken one, got %d", len(fired))
	}
	if fired[0].Rule.ID != "healthy" {
		t.Fatalf("expected healthy rule, got %s", fired[0].Rule.ID)
	}
}

func TestEvaluatePreservesCatalogueOrder(t *testing.T) {
	eng := NewRuleEngine([]DetectionRule{
		alwaysRule("first", time.Minute),
		alwaysRule("second", time.Minute),
		alwaysRule("third", time.Minute),
	}, NewMemoryTracker(), nil)

	fired := eng.Evaluate(context.Background(), "checkout-api", models.HealthSample{}, models.TargetMetrics{}, time.Now())
	if len(fired) != 3 {
		t.Fatalf("expected 3 firings, got %d", len(fired))
	}
	for i, id := range []string{"first", "second", "third"} {
		if fired[i].Rule.ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, fired[i].Rule.ID)
		}
	}
}

func TestDefaultCatalogFiveConsecutiveFailures(t *testing.T) {
	eng := NewRuleEngine(DefaultCatalog(), NewMemoryTracker(), nil)

	latest := models.HealthSample{TargetID: "checkout-api", Timestamp: time.Now(), Success: false}
	m := models.TargetMetrics{
		TargetID:            "checkout-api",
		ConsecutiveFailures: 5,
		AvgLatencyMs:        0,
		ErrorRateLastHour:   1,
	}

	fired := eng.Evaluate(context.Background(), "checkout-api", latest, m, time.Now())
	if len(fired) != 1 {
		t.Fatalf("expected exactly one rule for a hard outage, got %d", len(fired))
	}
	rule := fired[0].Rule
	if rule.ID != "consecutive-failures-critical" {
		t.Fatalf("expected consecutive-failures-critical, got %s", rule.ID)
	}
	if rule.Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", rule.Severity)
	}
	if rule.Cooldown != 30*time.Minute {
		t.Fatalf("expected 30m cooldown, got %s", rule.Cooldown)
	}
}

func TestDefaultCatalogThreeFailuresIsHigh(t *testing.T) {
	eng := NewRuleEngine(DefaultCatalog(), NewMemoryTracker(), nil)

	latest := models.HealthSample{TargetID: "checkout-api", Timestamp: time.Now(), Success: false}
	m := models.TargetMetrics{TargetID: "checkout-api", ConsecutiveFailures: 3, ErrorRateLastHour: 0.3}

	fired := eng.Evaluate(context.Background(), "checkout-api", latest, m, time.Now())
	if len(fired) != 1 {
		t.Fatalf("expected one firing, got %d", len(fired))
	}
	if fired[0].Rule.ID != "consecutive-failures-high" {
		t.Fatalf("expected consecutive-failures-high, got %s", fired[0].Rule.ID)
	}
}

func TestDefaultCatalogTimeoutRule(t *testing.T) {
	eng := NewRuleEngine(DefaultCatalog(), NewMemoryTracker(), nil)

	latest := models.HealthSample{
		TargetID:     "checkout-api",
		Timestamp:    time.Now(),
		Success:      false,
		ErrorMessage: "request timeout after 10s",
	}
	m := models.TargetMetrics{TargetID: "checkout-api", ConsecutiveFailures: 1, ErrorRateLastHour: 0.05}

	fired := eng.Evaluate(context.Background(), "checkout-api", latest, m, time.Now())
	found := false
	for _, f := range fired {
		if f.Rule.ID == "single-sample-timeout" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected single-sample-timeout to fire, got %v", fired)
	}
}

func TestRulesExposesCatalogueWithoutPredicates(t *testing.T) {
	catalog := DefaultCatalog()
	eng := NewRuleEngine(catalog, NewMemoryTracker(), nil)

	infos := eng.Rules()
	if len(infos) != len(catalog) {
		t.Fatalf("expected %d rules, got %d", len(catalog), len(infos))
	}
	for i, info := range infos {
		if info.ID != catalog[i].ID {
			t.Fatalf("position %d: expected %s, got %s", i, catalog[i].ID, info.ID)
		}
		if info.Cooldown <= 0 {
			t.Fatalf("rule %s: cooldown not exposed", info.ID)
		}
	}
}
