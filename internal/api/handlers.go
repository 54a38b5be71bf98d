package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/pulsestack/pulse-detect/internal/lifecycle"
	"github.com/pulsestack/pulse-detect/internal/models"
	"github.com/pulsestack/pulse-detect/internal/repo"
)

// DetectionAPI is the service surface the HTTP layer exposes.
type DetectionAPI interface {
	Analyze(ctx context.Context, targetID string, latest *models.HealthSample) error
	BatchAnalyze(ctx context.Context, targetIDs []string) []models.BatchAnalyzeResult
	ListRules() []models.RuleInfo
	ClearCooldowns(ctx context.Context) error
	Transition(ctx context.Context, incidentID string, newStatus models.Status, actorID, message string) (models.Incident, error)
	Escalate(ctx context.Context, incidentID, actorID, reason string) (models.Incident, error)
}

// Handler wires the detection service onto HTTP routes.
type Handler struct {
	Service DetectionAPI
	Logger  *slog.Logger
}

type errorResponse struct {
	Ok      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ruleResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Severity    models.Severity `json:"severity"`
	Cooldown    string          `json:"cooldown"`
}

// RegisterRoutes attaches all engine endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", h.handleAnalyze)
		r.Post("/analyze/batch", h.handleBatchAnalyze)
		r.Get("/rules", h.handleListRules)
		r.Delete("/cooldowns", h.handleClearCooldowns)
		r.Post("/incidents/{id}/transition", h.handleTransition)
		r.Post("/incidents/{id}/escalate", h.handleEscalate)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "target_id is required")
		return
	}

	if err := h.Service.Analyze(r.Context(), req.TargetID, req.Sample); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.BatchAnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(req.TargetIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "target_ids is required")
		return
	}

	results := h.Service.BatchAnalyze(r.Context(), req.TargetIDs)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := h.Service.ListRules()
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleResponse{
			ID:          rule.ID,
			Name:        rule.Name,
			Description: rule.Description,
			Severity:    rule.Severity,
			Cooldown:    rule.Cooldown.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (h *Handler) handleClearCooldowns(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ClearCooldowns(r.Context()); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "id")
	var req models.TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "actor_id is required")
		return
	}

	inc, err := h.Service.Transition(r.Context(), incidentID, req.Status, req.ActorID, req.Message)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "id")
	var req models.EscalateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "actor_id is required")
		return
	}

	inc, err := h.Service.Escalate(r.Context(), incidentID, req.ActorID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, lifecycle.ErrIncidentNotFound):
		writeError(w, http.StatusNotFound, "incident_not_found", err.Error())
	case errors.Is(err, repo.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, "target_not_found", err.Error())
	default:
		if h.Logger != nil {
			h.Logger.Error("request failed", slog.Any("error", err))
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Ok: false, Code: code, Message: message})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
