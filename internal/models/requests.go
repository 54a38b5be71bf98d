package models

import "time"

// AnalyzeRequest asks the engine to evaluate one target. Sample is optional;
// when absent the engine looks up the most recent stored sample.
type AnalyzeRequest struct {
	TargetID string        `json:"target_id"`
	Sample   *HealthSample `json:"sample,omitempty"`
}

// BatchAnalyzeRequest asks the engine to evaluate several targets.
type BatchAnalyzeRequest struct {
	TargetIDs []string `json:"target_ids"`
}

// BatchAnalyzeResult reports the per-target outcome of a batch run.
type BatchAnalyzeResult struct {
	TargetID string `json:"target_id"`
	Analyzed bool   `json:"analyzed"`
	Reason   string `json:"reason,omitempty"`
}

// RuleInfo is the read-only view of a detection rule exposed to operators.
// Predicates are not exposed.
type RuleInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	Cooldown    time.Duration `json:"cooldown"`
}

// TransitionRequest drives a manual status change.
type TransitionRequest struct {
	Status  Status `json:"status"`
	ActorID string `json:"actor_id"`
	Message string `json:"message,omitempty"`
}

// EscalateRequest bumps an incident's severity one step.
type EscalateRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}
