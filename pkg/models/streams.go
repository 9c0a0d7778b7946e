package models

import (
	"time"
)

// Connection status values written by the reconciler.
const (
	StatusConnected  = "connected"
	StatusInactive   = "inactive"
	StatusStarting   = "starting"
	StatusWorkerDown = "worker_down"
	StatusError      = "error"
	StatusUnknown    = "unknown"
)

// Stream is the declared configuration of a single video source plus the
// runtime facts the reconciler has observed for it.
type Stream struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SourceURL string `json:"rtsp_url"`

	LocationName *string  `json:"location_name"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`

	OrientationDeg float64 `json:"orientation_deg"`
	ViewAngleDeg   float64 `json:"view_angle_deg"`
	ViewDistanceM  float64 `json:"view_distance_m"`
	CameraTiltDeg  float64 `json:"camera_tilt_deg"`
	CameraHeightM  float64 `json:"camera_height_m"`

	GridSize  int     `json:"grid_size"`
	WinRadius int     `json:"win_radius"`
	Threshold float64 `json:"threshold"`

	ArrowScale              float64 `json:"arrow_scale"`
	ArrowOpacity            float64 `json:"arrow_opacity"`
	GradientIntensity       float64 `json:"gradient_intensity"`
	PerspectiveRulerOpacity float64 `json:"perspective_ruler_opacity"`

	ShowFeed             bool `json:"show_feed"`
	ShowArrows           bool `json:"show_arrows"`
	ShowMagnitude        bool `json:"show_magnitude"`
	ShowTrails           bool `json:"show_trails"`
	ShowPerspectiveRuler bool `json:"show_perspective_ruler"`

	IsActive bool `json:"is_active"`

	WorkerHandle     *string    `json:"worker_container_name"`
	WorkerStartedAt  *time.Time `json:"worker_started_at"`
	LastError        *string    `json:"last_error"`
	ConnectionStatus string     `json:"connection_status"`

	CreatedAt time.Time `json:"created_at"`
}

// StreamSpec is a declared stream configuration as submitted by API callers.
// Optional fields left nil are defaulted on create and replaced wholesale on
// update.
type StreamSpec struct {
	Name      string `json:"name"`
	SourceURL string `json:"rtsp_url"`

	LocationName *string  `json:"location_name"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`

	OrientationDeg *float64 `json:"orientation_deg"`
	ViewAngleDeg   *float64 `json:"view_angle_deg"`
	ViewDistanceM  *float64 `json:"view_distance_m"`
	CameraTiltDeg  *float64 `json:"camera_tilt_deg"`
	CameraHeightM  *float64 `json:"camera_height_m"`

	GridSize  *int     `json:"grid_size"`
	WinRadius *int     `json:"win_radius"`
	Threshold *float64 `json:"threshold"`

	ArrowScale              *float64 `json:"arrow_scale"`
	ArrowOpacity            *float64 `json:"arrow_opacity"`
	GradientIntensity       *float64 `json:"gradient_intensity"`
	PerspectiveRulerOpacity *float64 `json:"perspective_ruler_opacity"`

	ShowFeed             *bool `json:"show_feed"`
	ShowArrows           *bool `json:"show_arrows"`
	ShowMagnitude        *bool `json:"show_magnitude"`
	ShowTrails           *bool `json:"show_trails"`
	ShowPerspectiveRuler *bool `json:"show_perspective_ruler"`

	IsActive *bool `json:"is_active"`
}
