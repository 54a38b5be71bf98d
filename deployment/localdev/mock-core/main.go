// mock-core is a localdev stand-in for the platform-core APIs the detection
// engine depends on: stored health samples, the incident store, and the
// aggregate-status recompute hook. State lives in memory.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type healthSample struct {
	TargetID     string    `json:"target_id"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	LatencyMs    int       `json:"latency_ms,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

type incident struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	Severity        string     `json:"severity"`
	Priority        string     `json:"priority"`
	RuleID          string     `json:"rule_id,omitempty"`
	AffectedTargets []string   `json:"affected_targets"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

type incidentUpdate struct {
	IncidentID  string    `json:"incident_id"`
	Status      string    `json:"status,omitempty"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type state struct {
	mu        sync.Mutex
	samples   map[string][]healthSample
	incidents map[string]incident
	updates   map[string][]incidentUpdate
}

func newState() *state {
	s := &state{
		samples:   make(map[string][]healthSample),
		incidents: make(map[string]incident),
		updates:   make(map[string][]incidentUpdate),
	}
	// Seed a flapping target so a sweep has something to detect.
	now := time.Now()
	for i := 0; i < 6; i++ {
		s.samples["checkout-api"] = append(s.samples["checkout-api"], healthSample{
			TargetID:     "checkout-api",
			Timestamp:    now.Add(time.Duration(i-6) * time.Minute),
			Success:      i == 0,
			LatencyMs:    120,
			StatusCode:   statusFor(i == 0),
			ErrorMessage: errorFor(i == 0),
		})
	}
	return s
}

func statusFor(ok bool) int {
	if ok {
		return 200
	}
	return 503
}

func errorFor(ok bool) string {
	if ok {
		return ""
	}
	return "connection refused"
}

func main() {
	st := newState()
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/detect/samples", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		defer st.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			targetID := r.URL.Query().Get("target_id")
			history, ok := st.samples[targetID]
			if !ok {
				http.NotFound(w, r)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if limit > 0 && len(history) > limit {
				history = history[len(history)-limit:]
			}
			writeJSON(w, map[string]any{"samples": history})
		case http.MethodPost:
			var sample healthSample
			if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			st.samples[sample.TargetID] = append(st.samples[sample.TargetID], sample)
			writeJSON(w, sample)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/detect/targets", func(w http.ResponseWriter, _ *http.Request) {
		st.mu.Lock()
		defer st.mu.Unlock()
		targets := make([]string, 0, len(st.samples))
		for id := range st.samples {
			targets = append(targets, id)
		}
		writeJSON(w, map[string]any{"targets": targets})
	})

	mux.HandleFunc("/api/v1/detect/incidents", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		defer st.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			targetID := r.URL.Query().Get("target_id")
			openOnly := r.URL.Query().Get("open") == "true"
			matches := make([]incident, 0)
			for _, inc := range st.incidents {
				if openOnly && inc.Status == "resolved" {
					continue
				}
				if targetID != "" && !affects(inc, targetID) {
					continue
				}
				matches = append(matches, inc)
			}
			writeJSON(w, map[string]any{"incidents": matches})
		case http.MethodPost:
			var inc incident
			if err := json.NewDecoder(r.Body).Decode(&inc); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			st.incidents[inc.ID] = inc
			log.Printf("incident created: %s [%s] %s", inc.ID, inc.Severity, inc.Title)
			writeJSON(w, inc)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/detect/incidents/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/detect/incidents/")
		parts := strings.Split(rest, "/")
		id := parts[0]

		st.mu.Lock()
		defer st.mu.Unlock()
		inc, ok := st.incidents[id]
		if !ok {
			http.NotFound(w, r)
			return
		}

		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			writeJSON(w, inc)
		case len(parts) == 1 && r.Method == http.MethodPut:
			var updated incident
			if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			st.incidents[id] = updated
			writeJSON(w, updated)
		case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
			writeJSON(w, map[string]any{"status": inc.Status})
		case len(parts) == 2 && parts[1] == "updates" && r.Method == http.MethodPost:
			var upd incidentUpdate
			if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			st.updates[id] = append(st.updates[id], upd)
			writeJSON(w, upd)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})

	mux.HandleFunc("/api/v1/detect/status/recompute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		log.Println("system status recompute requested")
		writeJSON(w, map[string]any{"ok": true})
	})

	addr := ":9080"
	fmt.Printf("mock-core listening on %s\n", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func affects(inc incident, targetID string) bool {
	for _, t := range inc.AffectedTargets {
		if t == targetID {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
