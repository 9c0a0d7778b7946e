package alerts

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/profikid/river-sense-proof-of-concept/internal/store"
	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
	"github.com/profikid/river-sense-proof-of-concept/pkg/monitoring"
)

// Webhook is the Alertmanager-compatible envelope posted by Grafana and
// Prometheus Alertmanager.
type Webhook struct {
	Receiver string         `json:"receiver"`
	Status   string         `json:"status"`
	GroupKey string         `json:"groupKey"`
	Alerts   []WebhookAlert `json:"alerts"`
}

// WebhookAlert is one alert within the envelope.
type WebhookAlert struct {
	Status      string             `json:"status"`
	Labels      map[string]string  `json:"labels"`
	Annotations map[string]string  `json:"annotations"`
	StartsAt    time.Time          `json:"startsAt"`
	EndsAt      time.Time          `json:"endsAt"`
	Fingerprint string             `json:"fingerprint"`
	Values      map[string]float64 `json:"values"`
}

// Service persists alert webhook traffic and derives group views.
type Service struct {
	store   *store.Store
	logger  logging.Logger
	metrics *monitoring.FlowMetrics
}

func NewService(st *store.Store, logger logging.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// SetMetrics attaches the domain metrics. Optional.
func (s *Service) SetMetrics(m *monitoring.FlowMetrics) {
	s.metrics = m
}

// NormalizeSeverity collapses label spellings into the canonical levels.
func NormalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit", "fatal", "high", "emergency", "page":
		return "critical"
	case "warning", "warn", "medium":
		return "warning"
	case "info", "information", "informational", "low":
		return "info"
	case "":
		return "unknown"
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}

// Identifier derives the grouping key for an alert: the Alertmanager
// fingerprint when present, otherwise name, stream and severity joined.
func Identifier(fingerprint, alertName, streamName, severity string) string {
	if fingerprint != "" {
		return fingerprint
	}
	return alertName + "|" + streamName + "|" + severity
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	// Alertmanager encodes "not yet ended" as the zero time.
	if t.IsZero() || t.Year() <= 1 {
		return nil
	}
	return &t
}

// Ingest parses one webhook envelope and stores an event per alert. The
// raw envelope is kept verbatim on every event.
func (s *Service) Ingest(ctx context.Context, raw []byte) ([]models.AlertEvent, error) {
	var wh Webhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, &store.ValidationError{Detail: "malformed webhook payload: " + err.Error()}
	}
	if len(wh.Alerts) == 0 {
		return nil, &store.ValidationError{Detail: "webhook payload contains no alerts"}
	}

	events := make([]models.AlertEvent, 0, len(wh.Alerts))
	for _, a := range wh.Alerts {
		status := a.Status
		if status == "" {
			status = wh.Status
		}
		severity := NormalizeSeverity(a.Labels["severity"])

		labels, _ := json.Marshal(a.Labels)
		annotations, _ := json.Marshal(a.Annotations)
		var values json.RawMessage
		if len(a.Values) > 0 {
			values, _ = json.Marshal(a.Values)
		}

		ev := models.AlertEvent{
			Receiver:           strPtr(wh.Receiver),
			GroupKey:           strPtr(wh.GroupKey),
			NotificationStatus: strPtr(wh.Status),
			AlertStatus:        strPtr(status),
			AlertName:          strPtr(a.Labels["alertname"]),
			AlertUID:           strPtr(a.Labels["__alert_rule_uid__"]),
			Severity:           strPtr(severity),
			StreamName:         strPtr(a.Labels["stream_name"]),
			Fingerprint:        strPtr(a.Fingerprint),
			Summary:            strPtr(a.Annotations["summary"]),
			Description:        strPtr(a.Annotations["description"]),
			StartsAt:           timePtr(a.StartsAt),
			EndsAt:             timePtr(a.EndsAt),
			Labels:             labels,
			Annotations:        annotations,
			Values:             values,
			RawPayload:         raw,
		}

		id, err := s.store.InsertAlertEvent(ctx, ev)
		if err != nil {
			return nil, err
		}
		ev.ID = id
		ev.ReceivedAt = time.Now()
		if s.metrics != nil {
			s.metrics.AlertsReceived.WithLabelValues(severity).Inc()
		}
		events = append(events, ev)
	}

	s.logger.WithFields(logging.Fields{
		"receiver": wh.Receiver,
		"status":   wh.Status,
		"alerts":   len(events),
	}).Info("Stored alert webhook")
	return events, nil
}
