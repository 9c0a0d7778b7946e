package settings

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"github.com/profikid/river-sense-proof-of-concept/internal/store"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

func modelsSettingsUpdate(fps *float64, quality, width *int, offset *float64, restart bool) models.SettingsUpdate {
	return models.SettingsUpdate{
		LivePreviewFPS:         fps,
		LivePreviewJPEGQuality: quality,
		LivePreviewMaxWidth:    width,
		OrientationOffsetDeg:   offset,
		RestartWorkers:         restart,
	}
}

type fakeRestarter struct {
	calls    int
	failures map[string]string
}

func (f *fakeRestarter) RestartAll(ctx context.Context) map[string]string {
	f.calls++
	return f.failures
}

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(store.New(db, logrus.New()), logrus.New()), mock
}

func settingsRow(fps float64, quality, width int, offset float64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"live_preview_fps", "live_preview_jpeg_quality", "live_preview_max_width",
		"orientation_offset_deg", "updated_at",
	}).AddRow(fps, quality, width, offset, time.Now())
}

func TestManagerLoadAndSnapshot(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery("SELECT (.+) FROM system_settings WHERE id = 1").
		WillReturnRows(settingsRow(6, 65, 960, 0))

	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	snap := m.Snapshot()
	if snap.LivePreviewFPS != 6 || snap.LivePreviewJPEGQuality != 65 || snap.LivePreviewMaxWidth != 960 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestManagerUpdateMergesPartialFields(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery("SELECT (.+) FROM system_settings WHERE id = 1").
		WillReturnRows(settingsRow(6, 65, 960, 0))
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Only FPS changes; the other columns are written back unchanged.
	mock.ExpectQuery("UPDATE system_settings SET").
		WithArgs(12.0, 65, 960, 0.0).
		WillReturnRows(settingsRow(12, 65, 960, 0))

	fps := 12.0
	res, err := m.Update(context.Background(), modelsSettingsUpdate(&fps, nil, nil, nil, false))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Settings.LivePreviewFPS != 12 {
		t.Fatalf("unexpected settings: %+v", res.Settings)
	}
	if m.Snapshot().LivePreviewFPS != 12 {
		t.Fatalf("cache not refreshed")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestManagerUpdateValidationKeepsCache(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery("SELECT (.+) FROM system_settings WHERE id = 1").
		WillReturnRows(settingsRow(6, 65, 960, 0))
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	fps := 99.0
	_, err := m.Update(context.Background(), modelsSettingsUpdate(&fps, nil, nil, nil, false))
	if !store.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if m.Snapshot().LivePreviewFPS != 6 {
		t.Fatalf("cache mutated on failed update")
	}
}

func TestManagerUpdateRestartsFleet(t *testing.T) {
	m, mock := newTestManager(t)
	restarter := &fakeRestarter{failures: map[string]string{"a": "stop failed"}}
	m.SetRestarter(restarter)

	mock.ExpectQuery("SELECT (.+) FROM system_settings WHERE id = 1").
		WillReturnRows(settingsRow(6, 65, 960, 0))
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	mock.ExpectQuery("UPDATE system_settings SET").
		WillReturnRows(settingsRow(6, 80, 960, 0))

	quality := 80
	res, err := m.Update(context.Background(), modelsSettingsUpdate(nil, &quality, nil, nil, true))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if restarter.calls != 1 {
		t.Fatalf("fleet restart not triggered")
	}
	if res.RestartFailures["a"] != "stop failed" {
		t.Fatalf("restart failures not surfaced: %+v", res.RestartFailures)
	}
}
