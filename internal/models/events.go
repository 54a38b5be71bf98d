package models

// IncidentCreatedEvent is emitted after a new incident is persisted.
type IncidentCreatedEvent struct {
	Incident Incident `json:"incident"`
}

// IncidentStatusChangedEvent is emitted after a successful transition.
type IncidentStatusChangedEvent struct {
	IncidentID string `json:"incident_id"`
	NewStatus  Status `json:"new_status"`
	ActorID    string `json:"actor_id"`
}

// IncidentEscalatedEvent is emitted after a severity escalation.
type IncidentEscalatedEvent struct {
	IncidentID  string   `json:"incident_id"`
	NewSeverity Severity `json:"new_severity"`
	ActorID     string   `json:"actor_id"`
}
