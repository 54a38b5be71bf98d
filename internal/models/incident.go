package models

import "time"

// Status enumerates the incident lifecycle states.
type Status string

const (
	StatusInvestigating Status = "investigating"
	StatusIdentified    Status = "identified"
	StatusMonitoring    Status = "monitoring"
	StatusResolved      Status = "resolved"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusInvestigating, StatusIdentified, StatusMonitoring, StatusResolved:
		return true
	}
	return false
}

// Severity captures business impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Escalated returns the next severity up the ladder. Critical is a fixed point.
func (s Severity) Escalated() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh, SeverityCritical:
		return SeverityCritical
	}
	return s
}

// Priority is the response urgency, always derived from severity.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// PriorityForSeverity maps severity onto priority. This is the only
// mapping path; priority is never set independently.
func PriorityForSeverity(sev Severity) Priority {
	switch sev {
	case SeverityCritical:
		return PriorityP1
	case SeverityHigh:
		return PriorityP2
	case SeverityMedium:
		return PriorityP3
	default:
		return PriorityP4
	}
}

// Incident is the unit of work the lifecycle manager owns. RuleID is set
// only on engine-created incidents and backs open-incident deduplication.
type Incident struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Status          Status     `json:"status"`
	Severity        Severity   `json:"severity"`
	Priority        Priority   `json:"priority"`
	RuleID          string     `json:"rule_id,omitempty"`
	AffectedTargets []string   `json:"affected_targets"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the incident still accepts transitions.
func (i Incident) Open() bool {
	return i.Status != StatusResolved
}

// IncidentUpdate is an append-only audit entry. Status is empty for
// non-transition updates (creation notes, escalations).
type IncidentUpdate struct {
	IncidentID  string    `json:"incident_id"`
	Status      Status    `json:"status,omitempty"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at"`
}
