package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

const alertColumns = `id, receiver, group_key, notification_status, alert_status,
	alert_name, alert_uid, severity, stream_name, fingerprint, summary, description,
	starts_at, ends_at, labels, annotations, "values", raw_payload, received_at`

func rawOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// InsertAlertEvent appends one alert event. Events are never updated.
func (s *Store) InsertAlertEvent(ctx context.Context, ev models.AlertEvent) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO alert_webhook_events (
			receiver, group_key, notification_status, alert_status,
			alert_name, alert_uid, severity, stream_name, fingerprint,
			summary, description, starts_at, ends_at,
			labels, annotations, "values", raw_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`,
		ev.Receiver, ev.GroupKey, ev.NotificationStatus, ev.AlertStatus,
		ev.AlertName, ev.AlertUID, ev.Severity, ev.StreamName, ev.Fingerprint,
		ev.Summary, ev.Description, ev.StartsAt, ev.EndsAt,
		rawOrEmpty(ev.Labels), rawOrEmpty(ev.Annotations), rawOrEmpty(ev.Values), rawOrEmpty(ev.RawPayload),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alert event: %w", err)
	}
	return id, nil
}

// ListAlertEvents returns the most recent events, newest first.
func (s *Store) ListAlertEvents(ctx context.Context, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alert_webhook_events ORDER BY received_at DESC, id DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	defer rows.Close()

	events := []models.AlertEvent{}
	for rows.Next() {
		var ev models.AlertEvent
		var labels, annotations, values, raw []byte
		if err := rows.Scan(
			&ev.ID, &ev.Receiver, &ev.GroupKey, &ev.NotificationStatus, &ev.AlertStatus,
			&ev.AlertName, &ev.AlertUID, &ev.Severity, &ev.StreamName, &ev.Fingerprint,
			&ev.Summary, &ev.Description, &ev.StartsAt, &ev.EndsAt,
			&labels, &annotations, &values, &raw, &ev.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		ev.Labels = labels
		ev.Annotations = annotations
		ev.Values = values
		ev.RawPayload = raw
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpsertAlertGroupState records a manual resolution override for a group.
func (s *Store) UpsertAlertGroupState(ctx context.Context, identifier string, resolved bool) (models.AlertGroupState, error) {
	if identifier == "" || len(identifier) > 1024 {
		return models.AlertGroupState{}, validationf("identifier is required and must be at most 1024 characters")
	}

	var out models.AlertGroupState
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO alert_group_states (identifier, resolved, resolved_at, updated_at)
		VALUES ($1, $2, CASE WHEN $2 THEN NOW() ELSE NULL END, NOW())
		ON CONFLICT (identifier) DO UPDATE SET
			resolved = EXCLUDED.resolved,
			resolved_at = EXCLUDED.resolved_at,
			updated_at = NOW()
		RETURNING identifier, resolved, resolved_at, updated_at`,
		identifier, resolved,
	).Scan(&out.Identifier, &out.Resolved, &out.ResolvedAt, &out.UpdatedAt)
	if err != nil {
		return models.AlertGroupState{}, fmt.Errorf("upsert alert group state: %w", err)
	}
	return out, nil
}

// ListAlertGroupStates returns all manual resolution records.
func (s *Store) ListAlertGroupStates(ctx context.Context) ([]models.AlertGroupState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, resolved, resolved_at, updated_at FROM alert_group_states ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list alert group states: %w", err)
	}
	defer rows.Close()

	states := []models.AlertGroupState{}
	for rows.Next() {
		var st models.AlertGroupState
		if err := rows.Scan(&st.Identifier, &st.Resolved, &st.ResolvedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert group state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
