package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulsestack/pulse-detect/internal/engine"
	"github.com/pulsestack/pulse-detect/internal/lifecycle"
	"github.com/pulsestack/pulse-detect/internal/models"
	"github.com/pulsestack/pulse-detect/internal/repo"
)

type harness struct {
	source  *repo.MemorySampleSource
	store   *repo.MemoryIncidentStore
	tracker *engine.MemoryTracker
	service *DetectionService
}

func newHarness() *harness {
	source := repo.NewMemorySampleSource()
	store := repo.NewMemoryIncidentStore()
	tracker := engine.NewMemoryTracker()

	aggregator := engine.NewAggregator(10, time.Hour)
	rules := engine.NewRuleEngine(engine.DefaultCatalog(), tracker, nil)
	manager := lifecycle.NewManager(store, nil, nil, nil)

	return &harness{
		source:  source,
		store:   store,
		tracker: tracker,
		service: NewDetectionService(nil, source, aggregator, rules, manager, 120, "detection-engine"),
	}
}

func (h *harness) failures(targetID string, base time.Time, n int) {
	for i := 0; i < n; i++ {
		h.source.Append(models.HealthSample{
			TargetID:     targetID,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Success:      false,
			StatusCode:   503,
			ErrorMessage: "connection refused",
		})
	}
}

func openIncidents(t *testing.T, store *repo.MemoryIncidentStore, targetID string) []models.Incident {
	t.Helper()
	open, err := store.FindOpenForTarget(context.Background(), targetID)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	return open
}

func TestAnalyzeFiveFailuresOpensCriticalIncident(t *testing.T) {
	h := newHarness()
	base := time.Now().Add(-5 * time.Minute)
	h.failures("checkout-api", base, 5)

	if err := h.service.Analyze(context.Background(), "checkout-api", nil); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	open := openIncidents(t, h.store, "checkout-api")
	if len(open) != 1 {
		t.Fatalf("expected exactly one incident, got %d", len(open))
	}
	inc := open[0]
	if inc.Severity != models.SeverityCritical {
		t.Fatalf("expected critical, got %s", inc.Severity)
	}
	if inc.Priority != models.PriorityP1 {
		t.Fatalf("expected P1, got %s", inc.Priority)
	}
	if inc.Status != models.StatusInvestigating {
		t.Fatalf("expected investigating, got %s", inc.Status)
	}
	if inc.RuleID != "consecutive-failures-critical" {
		t.Fatalf("expected consecutive-failures-critical, got %s", inc.RuleID)
	}

	if !h.tracker.IsSuppressed(context.Background(), "consecutive-failures-critical", "checkout-api", time.Now().Add(29*time.Minute)) {
		t.Fatalf("expected rule suppressed within the 30m cooldown")
	}
	if h.tracker.IsSuppressed(context.Background(), "consecutive-failures-critical", "checkout-api", time.Now().Add(31*time.Minute)) {
		t.Fatalf("expected suppression to lapse after 30m")
	}
}

func TestAnalyzeNoHistoryIsNoop(t *testing.T) {
	h := newHarness()

	if err := h.service.Analyze(context.Background(), "unknown-target", nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if open := openIncidents(t, h.store, "unknown-target"); len(open) != 0 {
		t.Fatalf("expected no incidents, got %d", len(open))
	}
}

func TestAnalyzeIdempotentWithoutNewSample(t *testing.T) {
	h := newHarness()
	base := time.Now().Add(-5 * time.Minute)
	h.failures("checkout-api", base, 5)

	if err := h.service.Analyze(context.Background(), "checkout-api", nil); err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	if err := h.service.Analyze(context.Background(), "checkout-api", nil); err != nil {
		t.Fatalf("second analyze: %v", err)
	}

	if open := openIncidents(t, h.store, "checkout-api"); len(open) != 1 {
		t.Fatalf("expected still one incident, got %d", len(open))
	}
}

func TestAnalyzeDedupsOpenIncident(t *testing.T) {
	h := newHarness()
	base := time.Now().Add(-10 * time.Minute)
	h.failures("checkout-api", base, 5)

	if err := h.service.Analyze(context.Background(), "checkout-api", nil); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// Cooldown lapses but the incident is still open: no duplicate.
	if err := h.tracker.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	h.failures("checkout-api", base.Add(6*time.Minute), 1)
	if err := h.service.Analyze(context.Background(), "checkout-api", nil); err != nil {
		t.Fatalf("re-analyze: %v", err)
	}

	if open := openIncidents(t, h.store, "checkout-api"); len(open) != 1 {
		t.Fatalf("expected dedup against open incident, got %d", len(open))
	}
}

type flakySource struct {
	inner *repo.MemorySampleSource
	bad   string
}

func (s *flakySource) RecentSamples(ctx context.Context, targetID string, limit int) ([]models.HealthSample, error) {
	if targetID == s.bad {
		return nil, errors.New("sample store unavailable")
	}
	return s.inner.RecentSamples(ctx, targetID, limit)
}

func (s *flakySource) ListTargets(ctx context.Context) ([]string, error) {
	return s.inner.ListTargets(ctx)
}

func TestBatchAnalyzeIsolatesFailures(t *testing.T) {
	h := newHarness()
	base := time.Now().Add(-5 * time.Minute)
	h.failures("checkout-api", base, 5)

	source := &flakySource{inner: h.source, bad: "payments-api"}
	aggregator := engine.NewAggregator(10, time.Hour)
	rules := engine.NewRuleEngine(engine.DefaultCatalog(), engine.NewMemoryTracker(), nil)
	manager := lifecycle.NewManager(h.store, nil, nil, nil)
	service := NewDetectionService(nil, source, aggregator, rules, manager, 120, "detection-engine")

	results := service.BatchAnalyze(context.Background(), []string{"payments-api", "checkout-api"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	byTarget := make(map[string]models.BatchAnalyzeResult, 2)
	for _, r := range results {
		byTarget[r.TargetID] = r
	}
	if byTarget["payments-api"].Analyzed {
		t.Fatalf("expected payments-api to fail")
	}
	if byTarget["payments-api"].Reason == "" {
		t.Fatalf("expected a per-item failure reason")
	}
	if !byTarget["checkout-api"].Analyzed {
		t.Fatalf("expected checkout-api analysis to proceed: %s", byTarget["checkout-api"].Reason)
	}
}

type failingCreateStore struct {
	*repo.MemoryIncidentStore
}

func (failingCreateStore) Create(context.Context, models.Incident) (models.Incident, error) {
	return models.Incident{}, errors.New("incident store down")
}

func TestPersistenceFailureStillConsumesCooldown(t *testing.T) {
	source := repo.NewMemorySampleSource()
	tracker := engine.NewMemoryTracker()
	aggregator := engine.NewAggregator(10, time.Hour)
	rules := engine.NewRuleEngine(engine.DefaultCatalog(), tracker, nil)
	manager := lifecycle.NewManager(failingCreateStore{repo.NewMemoryIncidentStore()}, nil, nil, nil)
	service := NewDetectionService(nil, source, aggregator, rules, manager, 120, "detection-engine")

	base := time.Now().Add(-5 * time.Minute)
	for i := 0; i < 5; i++ {
		source.Append(models.HealthSample{
			TargetID:  "checkout-api",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Success:   false,
		})
	}

	err := service.Analyze(context.Background(), "checkout-api", nil)
	if err == nil {
		t.Fatalf("expected persistence failure to surface")
	}
	if !tracker.IsSuppressed(context.Background(), "consecutive-failures-critical", "checkout-api", time.Now()) {
		t.Fatalf("cooldown must stay consumed even when the write fails")
	}
}

func TestListRulesExposesCatalogue(t *testing.T) {
	h := newHarness()
	rules := h.service.ListRules()
	if len(rules) != len(engine.DefaultCatalog()) {
		t.Fatalf("expected %d rules, got %d", len(engine.DefaultCatalog()), len(rules))
	}
}

func TestClearCooldownsReenablesFiring(t *testing.T) {
	h := newHarness()
	base := time.Now().Add(-5 * time.Minute)
	h.failures("checkout-api", base, 5)

	if err := h.service.Analyze(context.Background(), "checkout-api", nil); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if err := h.service.ClearCooldowns(context.Background()); err != nil {
		t.Fatalf("clear cooldowns: %v", err)
	}
	if h.tracker.IsSuppressed(context.Background(), "consecutive-failures-critical", "checkout-api", time.Now()) {
		t.Fatalf("expected suppression gone after clear")
	}
}
