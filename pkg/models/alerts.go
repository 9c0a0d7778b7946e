package models

import (
	"encoding/json"
	"time"
)

// AlertEvent is one stored alert, extracted from an Alertmanager webhook
// envelope. The raw envelope is preserved verbatim; labelled fields are
// opportunistic extractions for querying.
type AlertEvent struct {
	ID                 int64           `json:"id"`
	Receiver           *string         `json:"receiver"`
	GroupKey           *string         `json:"group_key"`
	NotificationStatus *string         `json:"notification_status"`
	AlertStatus        *string         `json:"alert_status"`
	AlertName          *string         `json:"alert_name"`
	AlertUID           *string         `json:"alert_uid"`
	Severity           *string         `json:"severity"`
	StreamName         *string         `json:"stream_name"`
	Fingerprint        *string         `json:"fingerprint"`
	Summary            *string         `json:"summary"`
	Description        *string         `json:"description"`
	StartsAt           *time.Time      `json:"starts_at"`
	EndsAt             *time.Time      `json:"ends_at"`
	Labels             json.RawMessage `json:"labels"`
	Annotations        json.RawMessage `json:"annotations"`
	Values             json.RawMessage `json:"values"`
	RawPayload         json.RawMessage `json:"raw_payload"`
	ReceivedAt         time.Time       `json:"received_at"`
}

// AlertGroupState is a manual operator override declaring a group resolved.
type AlertGroupState struct {
	Identifier string     `json:"identifier"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// AlertGroup is the derived view over all events sharing an identifier.
type AlertGroup struct {
	Identifier     string     `json:"identifier"`
	AlertName      *string    `json:"alert_name"`
	StreamName     *string    `json:"stream_name"`
	LatestStatus   string     `json:"latest_status"`
	LatestSeverity string     `json:"latest_severity"`
	EffectiveState string     `json:"effective_state"`
	EventCount     int        `json:"event_count"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}
