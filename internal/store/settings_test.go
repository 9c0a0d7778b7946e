package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

func settingsRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"live_preview_fps", "live_preview_jpeg_quality", "live_preview_max_width",
		"orientation_offset_deg", "updated_at",
	}).AddRow(6.0, 65, 960, 0.0, time.Now())
}

func TestGetSettings(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM system_settings WHERE id = 1").
		WillReturnRows(settingsRow())

	got, err := st.GetSettings(context.Background())
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.LivePreviewFPS != 6.0 || got.LivePreviewJPEGQuality != 65 || got.LivePreviewMaxWidth != 960 {
		t.Fatalf("unexpected settings: %+v", got)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	st, _ := newTestStore(t)

	tests := []struct {
		name string
		next models.SystemSettings
	}{
		{"fps_too_low", models.SystemSettings{LivePreviewFPS: 0.1, LivePreviewJPEGQuality: 65}},
		{"fps_too_high", models.SystemSettings{LivePreviewFPS: 31, LivePreviewJPEGQuality: 65}},
		{"quality_too_low", models.SystemSettings{LivePreviewFPS: 6, LivePreviewJPEGQuality: 10}},
		{"negative_width", models.SystemSettings{LivePreviewFPS: 6, LivePreviewJPEGQuality: 65, LivePreviewMaxWidth: -1}},
		{"offset_out_of_range", models.SystemSettings{LivePreviewFPS: 6, LivePreviewJPEGQuality: 65, OrientationOffsetDeg: 400}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := st.UpdateSettings(context.Background(), tc.next)
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestUpdateSettings(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectQuery("UPDATE system_settings SET").
		WithArgs(10.0, 80, 1280, 5.0).
		WillReturnRows(sqlmock.NewRows([]string{
			"live_preview_fps", "live_preview_jpeg_quality", "live_preview_max_width",
			"orientation_offset_deg", "updated_at",
		}).AddRow(10.0, 80, 1280, 5.0, time.Now()))

	got, err := st.UpdateSettings(context.Background(), models.SystemSettings{
		LivePreviewFPS:         10,
		LivePreviewJPEGQuality: 80,
		LivePreviewMaxWidth:    1280,
		OrientationOffsetDeg:   5,
	})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if got.LivePreviewFPS != 10 || got.LivePreviewJPEGQuality != 80 {
		t.Fatalf("unexpected settings: %+v", got)
	}
}
