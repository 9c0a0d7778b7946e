package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

const settingsColumns = `live_preview_fps, live_preview_jpeg_quality, live_preview_max_width, orientation_offset_deg, updated_at`

// GetSettings reads the singleton settings row. The row is seeded by the
// schema bootstrap, so absence is a real error.
func (s *Store) GetSettings(ctx context.Context) (models.SystemSettings, error) {
	var out models.SystemSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM system_settings WHERE id = 1`).Scan(
		&out.LivePreviewFPS, &out.LivePreviewJPEGQuality, &out.LivePreviewMaxWidth,
		&out.OrientationOffsetDeg, &out.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SystemSettings{}, ErrNotFound
	}
	if err != nil {
		return models.SystemSettings{}, fmt.Errorf("get settings: %w", err)
	}
	return out, nil
}

// UpdateSettings validates and persists the full settings row.
func (s *Store) UpdateSettings(ctx context.Context, next models.SystemSettings) (models.SystemSettings, error) {
	if err := validateSettings(next); err != nil {
		return models.SystemSettings{}, err
	}

	var out models.SystemSettings
	err := s.db.QueryRowContext(ctx, `
		UPDATE system_settings SET
			live_preview_fps = $1,
			live_preview_jpeg_quality = $2,
			live_preview_max_width = $3,
			orientation_offset_deg = $4,
			updated_at = NOW()
		WHERE id = 1
		RETURNING `+settingsColumns,
		next.LivePreviewFPS, next.LivePreviewJPEGQuality, next.LivePreviewMaxWidth,
		next.OrientationOffsetDeg,
	).Scan(
		&out.LivePreviewFPS, &out.LivePreviewJPEGQuality, &out.LivePreviewMaxWidth,
		&out.OrientationOffsetDeg, &out.UpdatedAt,
	)
	if err != nil {
		return models.SystemSettings{}, fmt.Errorf("update settings: %w", err)
	}
	return out, nil
}
