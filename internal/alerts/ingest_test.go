package alerts

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"github.com/profikid/river-sense-proof-of-concept/internal/store"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(store.New(db, logrus.New()), logrus.New()), mock
}

func TestIngestRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Ingest(context.Background(), []byte("{not json")); !store.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, err := svc.Ingest(context.Background(), []byte(`{"receiver":"x","alerts":[]}`)); !store.IsValidation(err) {
		t.Fatalf("expected ValidationError for empty alerts, got %v", err)
	}
}

func TestIngestStoresEventPerAlert(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("INSERT INTO alert_webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO alert_webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	payload := []byte(`{
		"receiver": "flowd",
		"status": "firing",
		"groupKey": "{}:{alertname=\"HighFlowMagnitude\"}",
		"alerts": [
			{
				"status": "firing",
				"labels": {"alertname": "HighFlowMagnitude", "severity": "CRIT", "stream_name": "bridge"},
				"annotations": {"summary": "flow spike"},
				"fingerprint": "fp-1",
				"startsAt": "2026-08-01T12:00:00Z",
				"endsAt": "0001-01-01T00:00:00Z"
			},
			{
				"status": "resolved",
				"labels": {"alertname": "WorkerDown", "severity": "warning"},
				"fingerprint": "fp-2",
				"startsAt": "2026-08-01T11:00:00Z",
				"endsAt": "2026-08-01T11:30:00Z"
			}
		]
	}`)

	events, err := svc.Ingest(context.Background(), payload)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if *first.Severity != "critical" {
		t.Fatalf("severity not normalized: %q", *first.Severity)
	}
	if *first.AlertName != "HighFlowMagnitude" || *first.StreamName != "bridge" {
		t.Fatalf("labels not extracted: %+v", first)
	}
	if *first.Summary != "flow spike" {
		t.Fatalf("annotation not extracted: %+v", first)
	}
	if first.EndsAt != nil {
		t.Fatalf("zero endsAt must map to nil, got %v", first.EndsAt)
	}
	if events[1].EndsAt == nil {
		t.Fatalf("real endsAt dropped")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
