package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsestack/pulse-detect/internal/engine"
	"github.com/pulsestack/pulse-detect/internal/lifecycle"
	"github.com/pulsestack/pulse-detect/internal/metrics"
	"github.com/pulsestack/pulse-detect/internal/models"
	"github.com/pulsestack/pulse-detect/internal/utils"
)

// batchParallelism bounds concurrent target evaluations in a batch run.
const batchParallelism = 8

// SampleSource supplies stored health-check history per target.
type SampleSource interface {
	RecentSamples(ctx context.Context, targetID string, limit int) ([]models.HealthSample, error)
	ListTargets(ctx context.Context) ([]string, error)
}

// DetectionService is the engine's ingestion facade: it turns a target's
// sample stream into incident creations via the aggregator, rule engine and
// lifecycle manager. Evaluations for the same target serialize on a
// per-target lock; distinct targets run independently.
type DetectionService struct {
	logger     *slog.Logger
	samples    SampleSource
	aggregator *engine.Aggregator
	rules      *engine.RuleEngine
	incidents  *lifecycle.Manager
	fetchLimit int
	reporterID string
	latencies  *utils.LatencyTracker

	mu           sync.Mutex
	targetLocks  map[string]*sync.Mutex
	lastAnalyzed map[string]time.Time
}

// NewDetectionService constructs the detection facade. fetchLimit bounds how
// much history is pulled per evaluation and should cover the hourly
// error-rate window at the probe cadence.
func NewDetectionService(logger *slog.Logger, samples SampleSource, aggregator *engine.Aggregator, rules *engine.RuleEngine, incidents *lifecycle.Manager, fetchLimit int, reporterID string) *DetectionService {
	if logger == nil {
		logger = slog.Default()
	}
	if fetchLimit <= 0 {
		fetchLimit = 120
	}
	if reporterID == "" {
		reporterID = "detection-engine"
	}
	return &DetectionService{
		logger:       logger,
		samples:      samples,
		aggregator:   aggregator,
		rules:        rules,
		incidents:    incidents,
		fetchLimit:   fetchLimit,
		reporterID:   reporterID,
		latencies:    utils.NewLatencyTracker(1024),
		targetLocks:  make(map[string]*sync.Mutex),
		lastAnalyzed: make(map[string]time.Time),
	}
}

// Analyze evaluates one target. latest may be nil, in which case the most
// recent stored sample is used; a target with no history is a no-op.
// Re-analyzing without a new sample is also a no-op. Persistence failures
// are surfaced but the cooldown for the firing rule stays consumed.
func (s *DetectionService) Analyze(ctx context.Context, targetID string, latest *models.HealthSample) error {
	if targetID == "" {
		return utils.NewAppError("detect.analyze", "target id is required", nil)
	}

	unlock := s.lockTarget(targetID)
	defer unlock()

	history, err := s.samples.RecentSamples(ctx, targetID, s.fetchLimit)
	if err != nil {
		return err
	}
	if latest == nil {
		if len(history) == 0 {
			return nil
		}
		latest = &history[len(history)-1]
	}
	if last, ok := s.lastSeen(targetID); ok && !latest.Timestamp.After(last) {
		return nil
	}

	start := time.Now()
	snapshot := s.aggregator.Aggregate(targetID, history, *latest)
	fired := s.rules.Evaluate(ctx, targetID, *latest, snapshot, time.Now().UTC())

	var errs []error
	for _, f := range fired {
		if err := s.openIncident(ctx, targetID, f); err != nil {
			metrics.PersistenceFailure()
			s.logger.Error("incident creation failed",
				slog.String("rule_id", f.Rule.ID),
				slog.String("target_id", targetID),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("rule %s: %w", f.Rule.ID, err))
		}
	}
	s.markSeen(targetID, latest.Timestamp)

	duration := time.Since(start)
	outcome := metrics.OutcomeSuccess
	if len(errs) > 0 {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveEvaluation(duration, outcome)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("evaluation latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	if len(errs) > 0 {
		return utils.NewAppError("detect.analyze", "incident persistence", errors.Join(errs...))
	}
	return nil
}

// openIncident creates an incident for a fired rule unless an open one for
// the same (rule, target) pair already exists.
func (s *DetectionService) openIncident(ctx context.Context, targetID string, f engine.FiredRule) error {
	existing, found, err := s.incidents.OpenIncidentForRule(ctx, targetID, f.Rule.ID)
	if err != nil {
		return err
	}
	if found {
		s.logger.Debug("open incident already exists",
			slog.String("rule_id", f.Rule.ID),
			slog.String("target_id", targetID),
			slog.String("incident_id", existing.ID))
		return nil
	}

	_, err = s.incidents.CreateIncident(ctx, lifecycle.CreateParams{
		Title:           f.Rule.IncidentTitle(targetID),
		Description:     f.Rule.IncidentDescription(targetID, f.Metrics),
		Severity:        f.Rule.Severity,
		RuleID:          f.Rule.ID,
		AffectedTargets: []string{targetID},
		ReporterID:      s.reporterID,
	})
	return err
}

// BatchAnalyze evaluates each target independently; one target's failure is
// reported per-item and never aborts the batch.
func (s *DetectionService) BatchAnalyze(ctx context.Context, targetIDs []string) []models.BatchAnalyzeResult {
	results := make([]models.BatchAnalyzeResult, len(targetIDs))

	sem := make(chan struct{}, batchParallelism)
	var wg sync.WaitGroup
	for i, targetID := range targetIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, targetID string) {
			defer wg.Done()
			defer func() { <-sem }()

			result := models.BatchAnalyzeResult{TargetID: targetID, Analyzed: true}
			if err := s.Analyze(ctx, targetID, nil); err != nil {
				result.Analyzed = false
				result.Reason = err.Error()
			}
			results[i] = result
		}(i, targetID)
	}
	wg.Wait()
	return results
}

// AnalyzeAll sweeps every known target. Used by the periodic scheduler.
func (s *DetectionService) AnalyzeAll(ctx context.Context) ([]models.BatchAnalyzeResult, error) {
	targets, err := s.samples.ListTargets(ctx)
	if err != nil {
		return nil, utils.NewAppError("detect.sweep", "list targets", err)
	}
	return s.BatchAnalyze(ctx, targets), nil
}

// ListRules exposes the catalogue without predicates.
func (s *DetectionService) ListRules() []models.RuleInfo {
	return s.rules.Rules()
}

// ClearCooldowns resets all suppression state. Intended for tests and
// incident-response drills.
func (s *DetectionService) ClearCooldowns(ctx context.Context) error {
	return s.rules.ClearCooldowns(ctx)
}

// Transition forwards a manual status change to the lifecycle manager.
func (s *DetectionService) Transition(ctx context.Context, incidentID string, newStatus models.Status, actorID, message string) (models.Incident, error) {
	return s.incidents.Transition(ctx, incidentID, newStatus, actorID, message)
}

// Escalate forwards a severity escalation to the lifecycle manager.
func (s *DetectionService) Escalate(ctx context.Context, incidentID, actorID, reason string) (models.Incident, error) {
	return s.incidents.Escalate(ctx, incidentID, actorID, reason)
}

// LatencyP95 returns the current p95 evaluation latency.
func (s *DetectionService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *DetectionService) lockTarget(targetID string) func() {
	s.mu.Lock()
	l, ok := s.targetLocks[targetID]
	if !ok {
		l = &sync.Mutex{}
		s.targetLocks[targetID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *DetectionService) lastSeen(targetID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.lastAnalyzed[targetID]
	return ts, ok
}

func (s *DetectionService) markSeen(targetID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAnalyzed[targetID] = ts
}
