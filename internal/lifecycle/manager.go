package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsestack/pulse-detect/internal/metrics"
	"github.com/pulsestack/pulse-detect/internal/models"
	"github.com/pulsestack/pulse-detect/internal/utils"
)

// ErrInvalidTransition signals a status change that is not a valid edge of
// the lifecycle state machine. The incident is left unchanged.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrIncidentNotFound signals an unknown incident id.
var ErrIncidentNotFound = errors.New("incident not found")

// Store is the narrow persistence interface the lifecycle manager depends
// on. It is implemented by the platform-core client in production and by an
// in-memory store in tests.
type Store interface {
	Create(ctx context.Context, inc models.Incident) (models.Incident, error)
	Get(ctx context.Context, id string) (models.Incident, error)
	Update(ctx context.Context, inc models.Incident) (models.Incident, error)
	AppendUpdate(ctx context.Context, upd models.IncidentUpdate) (models.IncidentUpdate, error)
	CurrentStatus(ctx context.Context, id string) (models.Status, error)
	FindOpenForTarget(ctx context.Context, targetID string) ([]models.Incident, error)
}

// Publisher receives lifecycle events. Implementations must be
// fire-and-forget; a failing publisher never rolls back a mutation.
type Publisher interface {
	IncidentCreated(ctx context.Context, ev models.IncidentCreatedEvent)
	IncidentStatusChanged(ctx context.Context, ev models.IncidentStatusChangedEvent)
	IncidentEscalated(ctx context.Context, ev models.IncidentEscalatedEvent)
}

// StatusRecalculator recomputes the aggregate system status shown on the
// dashboard. Invoked best-effort after every successful mutation.
type StatusRecalculator interface {
	Recompute(ctx context.Context) error
}

var validTransitions = map[models.Status][]models.Status{
	models.StatusInvestigating: {models.StatusIdentified, models.StatusResolved},
	models.StatusIdentified:    {models.StatusMonitoring, models.StatusResolved},
	models.StatusMonitoring:    {models.StatusIdentified, models.StatusResolved},
	models.StatusResolved:      {},
}

// CanTransition reports whether (from, to) is an edge of the state machine.
// Resolved has no outgoing edges.
func CanTransition(from, to models.Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func defaultStatusMessage(status models.Status) string {
	switch status {
	case models.StatusInvestigating:
		return "Investigation started"
	case models.StatusIdentified:
		return "Root cause identified"
	case models.StatusMonitoring:
		return "Fix applied, monitoring recovery"
	case models.StatusResolved:
		return "Incident resolved"
	}
	return "Status updated"
}

// CreateParams carries the inputs for opening a new incident.
type CreateParams struct {
	Title           string
	Description     string
	Severity        models.Severity
	RuleID          string
	AffectedTargets []string
	ReporterID      string
}

// Manager owns the incident status state machine. All mutations for one
// incident serialize on a per-incident lock so two concurrent transitions
// cannot both succeed from the same starting state.
type Manager struct {
	store     Store
	publisher Publisher
	recalc    StatusRecalculator
	logger    *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager constructs a lifecycle manager. publisher and recalc may be nil.
func NewManager(store Store, publisher Publisher, recalc StatusRecalculator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		publisher: publisher,
		recalc:    recalc,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// NewIncidentID generates a human-readable, collision-resistant id.
func NewIncidentID(now time.Time) string {
	return fmt.Sprintf("INC-%s-%s", now.UTC().Format("20060102"), uuid.NewString()[:8])
}

// CreateIncident opens a new incident in investigating status with priority
// derived from severity, and writes the initial audit entry.
func (m *Manager) CreateIncident(ctx context.Context, params CreateParams) (models.Incident, error) {
	sev := params.Severity
	if !sev.Valid() {
		sev = models.SeverityLow
	}

	now := time.Now().UTC()
	inc := models.Incident{
		ID:              NewIncidentID(now),
		Title:           params.Title,
		Description:     params.Description,
		Status:          models.StatusInvestigating,
		Severity:        sev,
		Priority:        models.PriorityForSeverity(sev),
		RuleID:          params.RuleID,
		AffectedTargets: append([]string(nil), params.AffectedTargets...),
		CreatedAt:       now,
	}

	created, err := m.store.Create(ctx, inc)
	if err != nil {
		return models.Incident{}, utils.NewAppError("lifecycle.create", "persist incident", err)
	}

	_, err = m.store.AppendUpdate(ctx, models.IncidentUpdate{
		IncidentID:  created.ID,
		Status:      models.StatusInvestigating,
		Description: params.Description,
		ActorID:     params.ReporterID,
		CreatedAt:   now,
	})
	if err != nil {
		return created, utils.NewAppError("lifecycle.create", "append initial update", err)
	}

	metrics.IncidentCreated(string(created.Severity))
	m.logger.Info("incident created",
		slog.String("incident_id", created.ID),
		slog.String("severity", string(created.Severity)),
		slog.String("rule_id", created.RuleID))

	if m.publisher != nil {
		m.publisher.IncidentCreated(ctx, models.IncidentCreatedEvent{Incident: created})
	}
	m.scheduleRecompute()
	return created, nil
}

// Transition applies a validated status change and appends exactly one
// IncidentUpdate carrying the new status. Resolved is terminal; resolvedAt
// is set once, when the incident resolves, and never cleared.
func (m *Manager) Transition(ctx context.Context, incidentID string, newStatus models.Status, actorID, message string) (models.Incident, error) {
	if !newStatus.Valid() {
		return models.Incident{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	unlock := m.lockIncident(incidentID)
	defer unlock()

	inc, err := m.store.Get(ctx, incidentID)
	if err != nil {
		return models.Incident{}, err
	}
	if !CanTransition(inc.Status, newStatus) {
		return models.Incident{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inc.Status, newStatus)
	}

	now := time.Now().UTC()
	inc.Status = newStatus
	if newStatus == models.StatusResolved && inc.ResolvedAt == nil {
		inc.ResolvedAt = &now
	}

	updated, err := m.store.Update(ctx, inc)
	if err != nil {
		return models.Incident{}, utils.NewAppError("lifecycle.transition", "persist status change", err)
	}

	if message == "" {
		message = defaultStatusMessage(newStatus)
	}
	_, err = m.store.AppendUpdate(ctx, models.IncidentUpdate{
		IncidentID:  updated.ID,
		Status:      newStatus,
		Description: message,
		ActorID:     actorID,
		CreatedAt:   now,
	})
	if err != nil {
		return updated, utils.NewAppError("lifecycle.transition", "append update", err)
	}

	m.logger.Info("incident status changed",
		slog.String("incident_id", updated.ID),
		slog.String("status", string(newStatus)),
		slog.String("actor_id", actorID))

	if m.publisher != nil {
		m.publisher.IncidentStatusChanged(ctx, models.IncidentStatusChangedEvent{
			IncidentID: updated.ID,
			NewStatus:  newStatus,
			ActorID:    actorID,
		})
	}
	m.scheduleRecompute()
	return updated, nil
}

// Escalate bumps severity one step up the ladder, recomputes priority from
// the new severity, and forces priority to at least P2. Status is untouched.
func (m *Manager) Escalate(ctx context.Context, incidentID, actorID, reason string) (models.Incident, error) {
	unlock := m.lockIncident(incidentID)
	defer unlock()

	inc, err := m.store.Get(ctx, incidentID)
	if err != nil {
		return models.Incident{}, err
	}

	inc.Severity = inc.Severity.Escalated()
	inc.Priority = models.PriorityForSeverity(inc.Severity)
	if inc.Priority == models.PriorityP3 || inc.Priority == models.PriorityP4 {
		inc.Priority = models.PriorityP2
	}

	updated, err := m.store.Update(ctx, inc)
	if err != nil {
		return models.Incident{}, utils.NewAppError("lifecycle.escalate", "persist escalation", err)
	}

	now := time.Now().UTC()
	message := fmt.Sprintf("Severity escalated to %s after %.0f minutes open",
		updated.Severity, utils.DurationMinutes(updated.CreatedAt, now))
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	_, err = m.store.AppendUpdate(ctx, models.IncidentUpdate{
		IncidentID:  updated.ID,
		Description: message,
		ActorID:     actorID,
		CreatedAt:   now,
	})
	if err != nil {
		return updated, utils.NewAppError("lifecycle.escalate", "append update", err)
	}

	m.logger.Info("incident escalated",
		slog.String("incident_id", updated.ID),
		slog.String("severity", string(updated.Severity)),
		slog.String("actor_id", actorID))

	if m.publisher != nil {
		m.publisher.IncidentEscalated(ctx, models.IncidentEscalatedEvent{
			IncidentID:  updated.ID,
			NewSeverity: updated.Severity,
			ActorID:     actorID,
		})
	}
	m.scheduleRecompute()
	return updated, nil
}

// OpenIncidentForRule returns the open incident created by ruleID for the
// target, if one exists. Used to avoid duplicate engine-created incidents.
func (m *Manager) OpenIncidentForRule(ctx context.Context, targetID, ruleID string) (models.Incident, bool, error) {
	open, err := m.store.FindOpenForTarget(ctx, targetID)
	if err != nil {
		return models.Incident{}, false, err
	}
	for _, inc := range open {
		if inc.RuleID == ruleID && inc.Open() {
			return inc, true, nil
		}
	}
	return models.Incident{}, false, nil
}

func (m *Manager) lockIncident(id string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// scheduleRecompute kicks the aggregate-status recalculation without
// blocking or failing the triggering mutation.
func (m *Manager) scheduleRecompute() {
	if m.recalc == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.recalc.Recompute(ctx); err != nil {
			m.logger.Warn("system status recompute failed", slog.Any("error", err))
		}
	}()
}
