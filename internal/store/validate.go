package store

import (
	"strings"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// resolvedSpec is a stream declaration with all defaults applied and every
// field validated. Out-of-range values are rejected, not clamped.
type resolvedSpec struct {
	Name      string
	SourceURL string

	LocationName *string
	Latitude     *float64
	Longitude    *float64

	OrientationDeg float64
	ViewAngleDeg   float64
	ViewDistanceM  float64
	CameraTiltDeg  float64
	CameraHeightM  float64

	GridSize  int
	WinRadius int
	Threshold float64

	ArrowScale              float64
	ArrowOpacity            float64
	GradientIntensity       float64
	PerspectiveRulerOpacity float64

	ShowFeed             bool
	ShowArrows           bool
	ShowMagnitude        bool
	ShowTrails           bool
	ShowPerspectiveRuler bool

	IsActive bool
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func checkRange(field string, value, min, max float64) error {
	if value < min || value > max {
		return validationf("%s must be between %g and %g, got %g", field, min, max, value)
	}
	return nil
}

// resolveSpec defaults unspecified fields and validates every range in the
// data model. Returns a ValidationError on the first violation.
func resolveSpec(spec models.StreamSpec) (resolvedSpec, error) {
	r := resolvedSpec{
		Name:      strings.TrimSpace(spec.Name),
		SourceURL: strings.TrimSpace(spec.SourceURL),

		LocationName: spec.LocationName,
		Latitude:     spec.Latitude,
		Longitude:    spec.Longitude,

		OrientationDeg: floatOr(spec.OrientationDeg, 0),
		ViewAngleDeg:   floatOr(spec.ViewAngleDeg, 60),
		ViewDistanceM:  floatOr(spec.ViewDistanceM, 120),
		CameraTiltDeg:  floatOr(spec.CameraTiltDeg, 15),
		CameraHeightM:  floatOr(spec.CameraHeightM, 4),

		GridSize:  intOr(spec.GridSize, 16),
		WinRadius: intOr(spec.WinRadius, 8),
		Threshold: floatOr(spec.Threshold, 1.2),

		ArrowScale:              floatOr(spec.ArrowScale, 4),
		ArrowOpacity:            floatOr(spec.ArrowOpacity, 90),
		GradientIntensity:       floatOr(spec.GradientIntensity, 1),
		PerspectiveRulerOpacity: floatOr(spec.PerspectiveRulerOpacity, 70),

		ShowFeed:             boolOr(spec.ShowFeed, true),
		ShowArrows:           boolOr(spec.ShowArrows, true),
		ShowMagnitude:        boolOr(spec.ShowMagnitude, false),
		ShowTrails:           boolOr(spec.ShowTrails, false),
		ShowPerspectiveRuler: boolOr(spec.ShowPerspectiveRuler, true),

		IsActive: boolOr(spec.IsActive, false),
	}

	if r.Name == "" || len(r.Name) > 255 {
		return r, validationf("name is required and must be at most 255 characters")
	}
	if len(r.SourceURL) < 3 {
		return r, validationf("rtsp_url is required")
	}
	if r.LocationName != nil && len(*r.LocationName) > 512 {
		return r, validationf("location_name must be at most 512 characters")
	}
	if r.Latitude != nil {
		if err := checkRange("latitude", *r.Latitude, -90, 90); err != nil {
			return r, err
		}
	}
	if r.Longitude != nil {
		if err := checkRange("longitude", *r.Longitude, -180, 180); err != nil {
			return r, err
		}
	}
	if r.OrientationDeg < 0 || r.OrientationDeg >= 360 {
		return r, validationf("orientation_deg must be in [0, 360), got %g", r.OrientationDeg)
	}
	if err := checkRange("view_angle_deg", r.ViewAngleDeg, 5, 170); err != nil {
		return r, err
	}
	if err := checkRange("view_distance_m", r.ViewDistanceM, 50, 1000); err != nil {
		return r, err
	}
	if err := checkRange("camera_tilt_deg", r.CameraTiltDeg, -45, 89); err != nil {
		return r, err
	}
	if err := checkRange("camera_height_m", r.CameraHeightM, 0.5, 120); err != nil {
		return r, err
	}
	if err := checkRange("grid_size", float64(r.GridSize), 4, 128); err != nil {
		return r, err
	}
	if err := checkRange("win_radius", float64(r.WinRadius), 2, 32); err != nil {
		return r, err
	}
	if err := checkRange("threshold", r.Threshold, 0, 100); err != nil {
		return r, err
	}
	if err := checkRange("arrow_scale", r.ArrowScale, 0.1, 25); err != nil {
		return r, err
	}
	if err := checkRange("arrow_opacity", r.ArrowOpacity, 0, 100); err != nil {
		return r, err
	}
	if err := checkRange("gradient_intensity", r.GradientIntensity, 0.1, 5); err != nil {
		return r, err
	}
	if err := checkRange("perspective_ruler_opacity", r.PerspectiveRulerOpacity, 0, 100); err != nil {
		return r, err
	}

	return r, nil
}

// validateSettings checks the full settings row against the documented
// ranges.
func validateSettings(s models.SystemSettings) error {
	if err := checkRange("live_preview_fps", s.LivePreviewFPS, 0.5, 30); err != nil {
		return err
	}
	if err := checkRange("live_preview_jpeg_quality", float64(s.LivePreviewJPEGQuality), 30, 95); err != nil {
		return err
	}
	if s.LivePreviewMaxWidth < 0 {
		return validationf("live_preview_max_width must be >= 0, got %d", s.LivePreviewMaxWidth)
	}
	if err := checkRange("orientation_offset_deg", s.OrientationOffsetDeg, -360, 360); err != nil {
		return err
	}
	return nil
}
