package reconciler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// configFingerprint hashes every field a running worker observes: the
// stream's processing and render config plus the shared settings snapshot.
// Fields workers never see (location metadata, desired-state flag) are
// excluded so editing them does not trigger a restart.
func configFingerprint(st models.Stream, settings models.SystemSettings) string {
	obs := struct {
		Name      string  `json:"name"`
		SourceURL string  `json:"rtsp_url"`
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

		OrientationDeg float64 `json:"orientation_deg"`
		ViewAngleDeg   float64 `json:"view_angle_deg"`
		ViewDistanceM  float64 `json:"view_distance_m"`
		CameraTiltDeg  float64 `json:"camera_tilt_deg"`
		CameraHeightM  float64 `json:"camera_height_m"`

		PreviewFPS      float64 `json:"live_preview_fps"`
		PreviewQuality  int     `json:"live_preview_jpeg_quality"`
		PreviewMaxWidth int     `json:"live_preview_max_width"`
	}{
		Name:      st.Name,
		SourceURL: st.SourceURL,
		GridSize:  st.GridSize,
		WinRadius: st.WinRadius,
		Threshold: st.Threshold,

		ArrowScale:              st.ArrowScale,
		ArrowOpacity:            st.ArrowOpacity,
		GradientIntensity:       st.GradientIntensity,
		PerspectiveRulerOpacity: st.PerspectiveRulerOpacity,

		ShowFeed:             st.ShowFeed,
		ShowArrows:           st.ShowArrows,
		ShowMagnitude:        st.ShowMagnitude,
		ShowTrails:           st.ShowTrails,
		ShowPerspectiveRuler: st.ShowPerspectiveRuler,

		OrientationDeg: st.OrientationDeg,
		ViewAngleDeg:   st.ViewAngleDeg,
		ViewDistanceM:  st.ViewDistanceM,
		CameraTiltDeg:  st.CameraTiltDeg,
		CameraHeightM:  st.CameraHeightM,

		PreviewFPS:      settings.LivePreviewFPS,
		PreviewQuality:  settings.LivePreviewJPEGQuality,
		PreviewMaxWidth: settings.LivePreviewMaxWidth,
	}

	// Struct fields marshal in declaration order, so the hash is stable.
	data, _ := json.Marshal(obs)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
