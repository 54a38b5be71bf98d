package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pulsestack/pulse-detect/internal/lifecycle"
	"github.com/pulsestack/pulse-detect/internal/models"
)

// ErrTargetNotFound signals that platform-core does not know the target id.
var ErrTargetNotFound = errors.New("target not found")

// PlatformCoreClient wraps the platform-core REST APIs the engine depends
// on: stored health samples, the incident store, and the aggregate-status
// recompute hook. It implements lifecycle.Store.
type PlatformCoreClient struct {
	baseURL       string
	samplesPath   string
	targetsPath   string
	incidentsPath string
	recomputePath string
	httpClient    *http.Client
}

// NewPlatformCoreClient constructs a client targeting the configured
// platform-core instance.
func NewPlatformCoreClient(baseURL, samplesPath, targetsPath, incidentsPath, recomputePath string, timeout time.Duration) *PlatformCoreClient {
	return &PlatformCoreClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		samplesPath:   samplesPath,
		targetsPath:   targetsPath,
		incidentsPath: incidentsPath,
		recomputePath: recomputePath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// RecentSamples fetches up to limit samples for a target, oldest first. A
// target with no history yields an empty slice, not an error.
func (c *PlatformCoreClient) RecentSamples(ctx context.Context, targetID string, limit int) ([]models.HealthSample, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s?target_id=%s&limit=%d", c.resolvePath(c.samplesPath), url.QueryEscape(targetID), limit)

	var response struct {
		Samples []models.HealthSample `json:"samples"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
		}
		return nil, fmt.Errorf("platform-core samples request failed: %w", err)
	}
	return response.Samples, nil
}

// ListTargets returns the ids of all monitored targets.
func (c *PlatformCoreClient) ListTargets(ctx context.Context) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var response struct {
		Targets []string `json:"targets"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.resolvePath(c.targetsPath), nil, &response); err != nil {
		return nil, fmt.Errorf("platform-core targets request failed: %w", err)
	}
	return response.Targets, nil
}

// Create persists a new incident and returns the stored representation.
func (c *PlatformCoreClient) Create(ctx context.Context, inc models.Incident) (models.Incident, error) {
	if err := c.ready(); err != nil {
		return models.Incident{}, err
	}

	var stored models.Incident
	if err := c.doJSON(ctx, http.MethodPost, c.resolvePath(c.incidentsPath), inc, &stored); err != nil {
		return models.Incident{}, fmt.Errorf("platform-core incident create failed: %w", err)
	}
	return stored, nil
}

// Get fetches an incident by id.
func (c *PlatformCoreClient) Get(ctx context.Context, id string) (models.Incident, error) {
	if err := c.ready(); err != nil {
		return models.Incident{}, err
	}

	var inc models.Incident
	if err := c.doJSON(ctx, http.MethodGet, c.incidentURL(id, ""), nil, &inc); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return models.Incident{}, fmt.Errorf("%w: %s", lifecycle.ErrIncidentNotFound, id)
		}
		return models.Incident{}, fmt.Errorf("platform-core incident fetch failed: %w", err)
	}
	return inc, nil
}

// Update replaces the stored incident.
func (c *PlatformCoreClient) Update(ctx context.Context, inc models.Incident) (models.Incident, error) {
	if err := c.ready(); err != nil {
		return models.Incident{}, err
	}

	var stored models.Incident
	if err := c.doJSON(ctx, http.MethodPut, c.incidentURL(inc.ID, ""), inc, &stored); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return models.Incident{}, fmt.Errorf("%w: %s", lifecycle.ErrIncidentNotFound, inc.ID)
		}
		return models.Incident{}, fmt.Errorf("platform-core incident update failed: %w", err)
	}
	return stored, nil
}

// AppendUpdate appends an audit entry to the incident's timeline.
func (c *PlatformCoreClient) AppendUpdate(ctx context.Context, upd models.IncidentUpdate) (models.IncidentUpdate, error) {
	if err := c.ready(); err != nil {
		return models.IncidentUpdate{}, err
	}

	var stored models.IncidentUpdate
	if err := c.doJSON(ctx, http.MethodPost, c.incidentURL(upd.IncidentID, "updates"), upd, &stored); err != nil {
		return models.IncidentUpdate{}, fmt.Errorf("platform-core update append failed: %w", err)
	}
	return stored, nil
}

// CurrentStatus fetches the incident's current status.
func (c *PlatformCoreClient) CurrentStatus(ctx context.Context, id string) (models.Status, error) {
	if err := c.ready(); err != nil {
		return "", err
	}

	var response struct {
		Status models.Status `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.incidentURL(id, "status"), nil, &response); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return "", fmt.Errorf("%w: %s", lifecycle.ErrIncidentNotFound, id)
		}
		return "", fmt.Errorf("platform-core status fetch failed: %w", err)
	}
	return response.Status, nil
}

// FindOpenForTarget lists unresolved incidents affecting a target.
func (c *PlatformCoreClient) FindOpenForTarget(ctx context.Context, targetID string) ([]models.Incident, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s?target_id=%s&open=true", c.resolvePath(c.incidentsPath), url.QueryEscape(targetID))

	var response struct {
		Incidents []models.Incident `json:"incidents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("platform-core open incidents request failed: %w", err)
	}
	return response.Incidents, nil
}

// Recompute asks platform-core to recalculate the aggregate system status.
func (c *PlatformCoreClient) Recompute(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPost, c.resolvePath(c.recomputePath), nil, nil); err != nil {
		return fmt.Errorf("platform-core status recompute failed: %w", err)
	}
	return nil
}

func (c *PlatformCoreClient) ready() error {
	if c == nil {
		return fmt.Errorf("platform-core client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("platform-core base URL not configured")
	}
	return nil
}

func (c *PlatformCoreClient) incidentURL(id, suffix string) string {
	endpoint := c.resolvePath(c.incidentsPath) + "/" + url.PathEscape(id)
	if suffix != "" {
		endpoint += "/" + suffix
	}
	return endpoint
}

func (c *PlatformCoreClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

var errStatusNotFound = errors.New("not found")

func (c *PlatformCoreClient) doJSON(ctx context.Context, method, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errStatusNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("platform-core returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
