package runtime

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// State is the normalized lifecycle state of a worker as reported by the
// underlying runtime.
type State string

const (
	StateRunning  State = "running"
	StateStarting State = "starting"
	StateExited   State = "exited"
	StateMissing  State = "missing"
)

// Inspection is the result of querying a worker handle.
type Inspection struct {
	State     State
	StartedAt time.Time
	LastError string
}

// Driver is the uniform interface over the worker runtimes. All calls are
// idempotent: Start on a running handle returns that handle, Stop on a
// missing handle succeeds.
type Driver interface {
	Start(ctx context.Context, stream models.Stream, settings models.SystemSettings) (handle string, err error)
	Stop(ctx context.Context, handle string) error
	Inspect(ctx context.Context, handle string) (Inspection, error)
	Tail(ctx context.Context, handle string, lines int) ([]string, error)
	Ping(ctx context.Context) error
}

// Per-call deadlines, applied by callers around every driver invocation.
const (
	StartTimeout   = 30 * time.Second
	StopTimeout    = 15 * time.Second
	InspectTimeout = 5 * time.Second
)

// Error is a typed driver failure. Retryable errors are retried by the
// reconciler on its next iteration; permanent ones park the stream in the
// error state until the operator intervenes.
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func retryablef(op string, err error) error {
	return &Error{Op: op, Retryable: true, Err: err}
}

func permanentf(op string, err error) error {
	return &Error{Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether a driver error is worth retrying.
func IsRetryable(err error) bool {
	if de, ok := err.(*Error); ok {
		return de.Retryable
	}
	return false
}

// Config selects and parameterizes a driver variant.
type Config struct {
	Kind        string // "docker" or "kubernetes"
	WorkerImage string
	Network     string // docker network
	Namespace   string // kubernetes namespace
	MetricsPort int
	RedisURL    string
	DatabaseURL string
}

// New constructs the configured driver variant.
func New(cfg Config, logger logging.Logger) (Driver, error) {
	switch cfg.Kind {
	case "docker":
		return NewDockerDriver(cfg, logger)
	case "kubernetes":
		return NewKubernetesDriver(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown runtime driver %q", cfg.Kind)
	}
}

// HandleForStream returns the deterministic worker handle for a stream.
func HandleForStream(streamID string) string {
	return "worker-" + streamID
}

// FrameChannel returns the pub/sub channel a stream's worker publishes on.
func FrameChannel(streamID string) string {
	return "frames/" + streamID
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// workerEnv builds the full environment contract a worker receives: the
// stream's worker-observable config, the settings snapshot and shared
// infrastructure endpoints.
func workerEnv(cfg Config, stream models.Stream, settings models.SystemSettings) map[string]string {
	env := map[string]string{
		"STREAM_ID":                 stream.ID,
		"STREAM_NAME":               stream.Name,
		"RTSP_URL":                  stream.SourceURL,
		"GRID_SIZE":                 strconv.Itoa(stream.GridSize),
		"WIN_RADIUS":                strconv.Itoa(stream.WinRadius),
		"THRESHOLD":                 formatFloat(stream.Threshold),
		"ARROW_SCALE":               formatFloat(stream.ArrowScale),
		"ARROW_OPACITY":             formatFloat(stream.ArrowOpacity),
		"GRADIENT_INTENSITY":        formatFloat(stream.GradientIntensity),
		"PERSPECTIVE_RULER_OPACITY": formatFloat(stream.PerspectiveRulerOpacity),
		"SHOW_FEED":                 formatBool(stream.ShowFeed),
		"SHOW_ARROWS":               formatBool(stream.ShowArrows),
		"SHOW_MAGNITUDE":            formatBool(stream.ShowMagnitude),
		"SHOW_TRAILS":               formatBool(stream.ShowTrails),
		"SHOW_PERSPECTIVE_RULER":    formatBool(stream.ShowPerspectiveRuler),
		"ORIENTATION_DEG":           formatFloat(stream.OrientationDeg),
		"VIEW_ANGLE_DEG":            formatFloat(stream.ViewAngleDeg),
		"VIEW_DISTANCE_M":           formatFloat(stream.ViewDistanceM),
		"CAMERA_TILT_DEG":           formatFloat(stream.CameraTiltDeg),
		"CAMERA_HEIGHT_M":           formatFloat(stream.CameraHeightM),
		"LIVE_PREVIEW_FPS":          formatFloat(settings.LivePreviewFPS),
		"LIVE_PREVIEW_JPEG_QUALITY": strconv.Itoa(settings.LivePreviewJPEGQuality),
		"LIVE_PREVIEW_MAX_WIDTH":    strconv.Itoa(settings.LivePreviewMaxWidth),
		"PROMETHEUS_PORT":           strconv.Itoa(cfg.MetricsPort),
		"REDIS_URL":                 cfg.RedisURL,
		"REDIS_CHANNEL":             FrameChannel(stream.ID),
		"DATABASE_URL":              cfg.DatabaseURL,
	}
	if stream.LocationName != nil {
		env["LOCATION_NAME"] = *stream.LocationName
	}
	if stream.Latitude != nil {
		env["LATITUDE"] = formatFloat(*stream.Latitude)
	}
	if stream.Longitude != nil {
		env["LONGITUDE"] = formatFloat(*stream.Longitude)
	}
	return env
}

// envList renders the environment as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
