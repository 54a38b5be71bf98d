package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/pulsestack/pulse-detect/internal/models"
)

// Subjects for the notification/WebSocket collaborators.
const (
	SubjectIncidentCreated       = "incident.created"
	SubjectIncidentStatusChanged = "incident.status_changed"
	SubjectIncidentEscalated     = "incident.escalated"
)

// NATSPublisher emits lifecycle events onto NATS. Publish failures are
// logged and swallowed; emission never affects the triggering mutation.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher connects to the given NATS URL. prefix, when non-empty,
// namespaces every subject (e.g. "pulse" -> "pulse.incident.created").
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Close drains and closes the underlying connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
		p.conn.Close()
	}
}

func (p *NATSPublisher) subject(base string) string {
	if p.prefix == "" {
		return base
	}
	return p.prefix + "." + base
}

func (p *NATSPublisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("event marshal failed", slog.String("subject", subject), slog.Any("error", err))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("event publish failed", slog.String("subject", subject), slog.Any("error", err))
	}
}

// IncidentCreated publishes the creation event.
func (p *NATSPublisher) IncidentCreated(_ context.Context, ev models.IncidentCreatedEvent) {
	p.publish(p.subject(SubjectIncidentCreated), ev)
}

// IncidentStatusChanged publishes the status-change event.
func (p *NATSPublisher) IncidentStatusChanged(_ context.Context, ev models.IncidentStatusChangedEvent) {
	p.publish(p.subject(SubjectIncidentStatusChanged), ev)
}

// IncidentEscalated publishes the escalation event.
func (p *NATSPublisher) IncidentEscalated(_ context.Context, ev models.IncidentEscalatedEvent) {
	p.publish(p.subject(SubjectIncidentEscalated), ev)
}

// NoopPublisher discards all events. Used when NATS is disabled.
type NoopPublisher struct{}

// IncidentCreated discards the event.
func (NoopPublisher) IncidentCreated(context.Context, models.IncidentCreatedEvent) {}

// IncidentStatusChanged discards the event.
func (NoopPublisher) IncidentStatusChanged(context.Context, models.IncidentStatusChangedEvent) {}

// IncidentEscalated discards the event.
func (NoopPublisher) IncidentEscalated(context.Context, models.IncidentEscalatedEvent) {}
