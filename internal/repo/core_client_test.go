package repo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulsestack/pulse-detect/internal/lifecycle"
	"github.com/pulsestack/pulse-detect/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*PlatformCoreClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewPlatformCoreClient(
		server.URL,
		"/api/v1/detect/samples",
		"/api/v1/detect/targets",
		"/api/v1/detect/incidents",
		"/api/v1/detect/status/recompute",
		2*time.Second,
	)
	return client, server
}

func TestRecentSamples(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/detect/samples" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("target_id"); got != "checkout-api" {
			t.Fatalf("unexpected target_id %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "120" {
			t.Fatalf("unexpected limit %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"samples": []models.HealthSample{
				{TargetID: "checkout-api", Timestamp: time.Now(), Success: false, StatusCode: 503},
			},
		})
	}))

	samples, err := client.RecentSamples(context.Background(), "checkout-api", 120)
	if err != nil {
		t.Fatalf("recent samples: %v", err)
	}
	if len(samples) != 1 || samples[0].StatusCode != 503 {
		t.Fatalf("unexpected samples %+v", samples)
	}
}

func TestRecentSamplesUnknownTarget(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.RecentSamples(context.Background(), "ghost", 10)
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestCreateIncidentRoundTrip(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		var inc models.Incident
		if err := json.NewDecoder(r.Body).Decode(&inc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(inc)
	}))

	inc := models.Incident{
		ID:       "INC-20260825-abcd1234",
		Title:    "checkout-api: 5 consecutive failures",
		Status:   models.StatusInvestigating,
		Severity: models.SeverityCritical,
		Priority: models.PriorityP1,
	}
	stored, err := client.Create(context.Background(), inc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if stored.ID != inc.ID || stored.Priority != models.PriorityP1 {
		t.Fatalf("unexpected stored incident %+v", stored)
	}
}

func TestGetIncidentNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.Get(context.Background(), "INC-missing")
	if !errors.Is(err, lifecycle.ErrIncidentNotFound) {
		t.Fatalf("expected ErrIncidentNotFound, got %v", err)
	}
}

func TestCurrentStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/detect/incidents/INC-1/status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "monitoring"})
	}))

	status, err := client.CurrentStatus(context.Background(), "INC-1")
	if err != nil {
		t.Fatalf("current status: %v", err)
	}
	if status != models.StatusMonitoring {
		t.Fatalf("expected monitoring, got %s", status)
	}
}

func TestFindOpenForTarget(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("open"); got != "true" {
			t.Fatalf("expected open=true, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"incidents": []models.Incident{{ID: "INC-1", Status: models.StatusInvestigating}},
		})
	}))

	open, err := client.FindOpenForTarget(context.Background(), "checkout-api")
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if len(open) != 1 || open[0].ID != "INC-1" {
		t.Fatalf("unexpected incidents %+v", open)
	}
}

func TestClientNotConfigured(t *testing.T) {
	client := NewPlatformCoreClient("", "", "", "", "", time.Second)
	if _, err := client.RecentSamples(context.Background(), "checkout-api", 10); err == nil {
		t.Fatalf("expected error for missing base URL")
	}
}
