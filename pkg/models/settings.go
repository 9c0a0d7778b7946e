package models

import "time"

// SystemSettings is the singleton global-settings row (id = 1).
type SystemSettings struct {
	LivePreviewFPS         float64   `json:"live_preview_fps"`
	LivePreviewJPEGQuality int       `json:"live_preview_jpeg_quality"`
	LivePreviewMaxWidth    int       `json:"live_preview_max_width"`
	OrientationOffsetDeg   float64   `json:"orientation_offset_deg"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// SettingsUpdate is the PUT /settings/system request body. Nil fields keep
// their current value.
type SettingsUpdate struct {
	LivePreviewFPS         *float64 `json:"live_preview_fps"`
	LivePreviewJPEGQuality *int     `json:"live_preview_jpeg_quality"`
	LivePreviewMaxWidth    *int     `json:"live_preview_max_width"`
	OrientationOffsetDeg   *float64 `json:"orientation_offset_deg"`
	RestartWorkers         bool     `json:"restart_workers"`
}
