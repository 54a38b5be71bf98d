package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/pulsestack/pulse-detect/internal/lifecycle"
	"github.com/pulsestack/pulse-detect/internal/models"
)

// MemoryIncidentStore is an in-process lifecycle.Store used by tests and the
// localdev setup. It keeps incidents and their update timelines in maps.
type MemoryIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]models.Incident
	updates   map[string][]models.IncidentUpdate
}

// NewMemoryIncidentStore creates an empty store.
func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{
		incidents: make(map[string]models.Incident),
		updates:   make(map[string][]models.IncidentUpdate),
	}
}

// Create stores a new incident.
func (s *MemoryIncidentStore) Create(_ context.Context, inc models.Incident) (models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; exists {
		return models.Incident{}, fmt.Errorf("incident %s already exists", inc.ID)
	}
	s.incidents[inc.ID] = inc
	return inc, nil
}

// Get returns the incident or lifecycle.ErrIncidentNotFound.
func (s *MemoryIncidentStore) Get(_ context.Context, id string) (models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, fmt.Errorf("%w: %s", lifecycle.ErrIncidentNotFound, id)
	}
	return inc, nil
}

// Update replaces the stored incident.
func (s *MemoryIncidentStore) Update(_ context.Context, inc models.Incident) (models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; !ok {
		return models.Incident{}, fmt.Errorf("%w: %s", lifecycle.ErrIncidentNotFound, inc.ID)
	}
	s.incidents[inc.ID] = inc
	return inc, nil
}

// AppendUpdate appends an audit entry to the incident's timeline.
func (s *MemoryIncidentStore) AppendUpdate(_ context.Context, upd models.IncidentUpdate) (models.IncidentUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[upd.IncidentID] = append(s.updates[upd.IncidentID], upd)
	return upd, nil
}

// CurrentStatus returns the incident's status.
func (s *MemoryIncidentStore) CurrentStatus(ctx context.Context, id string) (models.Status, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return inc.Status, nil
}

// FindOpenForTarget lists unresolved incidents affecting the target.
func (s *MemoryIncidentStore) FindOpenForTarget(_ context.Context, targetID string) ([]models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []models.Incident
	for _, inc := range s.incidents {
		if !inc.Open() {
			continue
		}
		for _, t := range inc.AffectedTargets {
			if t == targetID {
				open = append(open, inc)
				break
			}
		}
	}
	return open, nil
}

// Updates returns the timeline recorded for an incident.
func (s *MemoryIncidentStore) Updates(id string) []models.IncidentUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.IncidentUpdate(nil), s.updates[id]...)
}

// MemorySampleSource holds per-target sample history in memory.
type MemorySampleSource struct {
	mu      sync.Mutex
	samples map[string][]models.HealthSample
}

// NewMemorySampleSource creates an empty source.
func NewMemorySampleSource() *MemorySampleSource {
	return &MemorySampleSource{samples: make(map[string][]models.HealthSample)}
}

// Append records a sample for its target, preserving arrival order.
func (s *MemorySampleSource) Append(sample models.HealthSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.TargetID] = append(s.samples[sample.TargetID], sample)
}

// RecentSamples returns up to limit newest samples, oldest first. An unknown
// target yields an empty slice.
func (s *MemorySampleSource) RecentSamples(_ context.Context, targetID string, limit int) ([]models.HealthSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.samples[targetID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]models.HealthSample(nil), history...), nil
}

// ListTargets returns every target id with recorded history.
func (s *MemorySampleSource) ListTargets(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make([]string, 0, len(s.samples))
	for id := range s.samples {
		targets = append(targets, id)
	}
	return targets, nil
}
