package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

func TestInsertAlertEvent(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO alert_webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	name := "HighFlowMagnitude"
	id, err := st.InsertAlertEvent(context.Background(), models.AlertEvent{
		AlertName:  &name,
		RawPayload: []byte(`{"alerts":[]}`),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 7 {
		t.Fatalf("unexpected id: %d", id)
	}
}

func TestListAlertEvents(t *testing.T) {
	st, mock := newTestStore(t)

	cols := strings.Split(alertColumns, ",")
	for i := range cols {
		cols[i] = strings.Trim(strings.TrimSpace(cols[i]), `"`)
	}
	name := "HighFlowMagnitude"
	rows := sqlmock.NewRows(cols).AddRow(
		int64(1), nil, nil, "firing", "firing",
		name, nil, "warning", "bridge", "fp-1", nil, nil,
		nil, nil, []byte(`{}`), []byte(`{}`), []byte(`{}`), []byte(`{}`), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM alert_webhook_events ORDER BY received_at DESC").
		WithArgs(50).
		WillReturnRows(rows)

	events, err := st.ListAlertEvents(context.Background(), 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || *events[0].AlertName != name {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestListAlertEventsDefaultLimit(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM alert_webhook_events").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	// Zero and negative limits fall back to 100.
	events, err := st.ListAlertEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertAlertGroupStateValidation(t *testing.T) {
	st, _ := newTestStore(t)

	if _, err := st.UpsertAlertGroupState(context.Background(), "", true); !IsValidation(err) {
		t.Fatalf("expected ValidationError for empty identifier, got %v", err)
	}
	if _, err := st.UpsertAlertGroupState(context.Background(), strings.Repeat("x", 1025), true); !IsValidation(err) {
		t.Fatalf("expected ValidationError for oversized identifier, got %v", err)
	}
}

func TestUpsertAlertGroupState(t *testing.T) {
	st, mock := newTestStore(t)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO alert_group_states").
		WithArgs("fp-1", true).
		WillReturnRows(sqlmock.NewRows([]string{"identifier", "resolved", "resolved_at", "updated_at"}).
			AddRow("fp-1", true, now, now))

	state, err := st.UpsertAlertGroupState(context.Background(), "fp-1", true)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !state.Resolved || state.ResolvedAt == nil {
		t.Fatalf("unexpected state: %+v", state)
	}
}
