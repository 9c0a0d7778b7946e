package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// Store provides transactional persistence for streams, settings and alerts.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// New creates a store on an established database connection.
func New(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

const streamColumns = `id, name, rtsp_url, location_name, latitude, longitude,
	orientation_deg, view_angle_deg, view_distance_m, camera_tilt_deg, camera_height_m,
	grid_size, win_radius, threshold,
	arrow_scale, arrow_opacity, gradient_intensity, perspective_ruler_opacity,
	show_feed, show_arrows, show_magnitude, show_trails, show_perspective_ruler,
	is_active, worker_container_name, worker_started_at, last_error, connection_status, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStream(row rowScanner) (models.Stream, error) {
	var st models.Stream
	err := row.Scan(
		&st.ID, &st.Name, &st.SourceURL, &st.LocationName, &st.Latitude, &st.Longitude,
		&st.OrientationDeg, &st.ViewAngleDeg, &st.ViewDistanceM, &st.CameraTiltDeg, &st.CameraHeightM,
		&st.GridSize, &st.WinRadius, &st.Threshold,
		&st.ArrowScale, &st.ArrowOpacity, &st.GradientIntensity, &st.PerspectiveRulerOpacity,
		&st.ShowFeed, &st.ShowArrows, &st.ShowMagnitude, &st.ShowTrails, &st.ShowPerspectiveRuler,
		&st.IsActive, &st.WorkerHandle, &st.WorkerStartedAt, &st.LastError, &st.ConnectionStatus, &st.CreatedAt,
	)
	return st, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateStream validates and inserts a new stream. The declaration's
// is_active flag is stored as-is; starting the worker is the reconciler's
// job, invoked by the caller after commit.
func (s *Store) CreateStream(ctx context.Context, spec models.StreamSpec) (models.Stream, error) {
	r, err := resolveSpec(spec)
	if err != nil {
		return models.Stream{}, err
	}

	id := uuid.New().String()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO camera_streams (
			id, name, rtsp_url, location_name, latitude, longitude,
			orientation_deg, view_angle_deg, view_distance_m, camera_tilt_deg, camera_height_m,
			grid_size, win_radius, threshold,
			arrow_scale, arrow_opacity, gradient_intensity, perspective_ruler_opacity,
			show_feed, show_arrows, show_magnitude, show_trails, show_perspective_ruler,
			is_active, connection_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)
		RETURNING `+streamColumns,
		id, r.Name, r.SourceURL, r.LocationName, r.Latitude, r.Longitude,
		r.OrientationDeg, r.ViewAngleDeg, r.ViewDistanceM, r.CameraTiltDeg, r.CameraHeightM,
		r.GridSize, r.WinRadius, r.Threshold,
		r.ArrowScale, r.ArrowOpacity, r.GradientIntensity, r.PerspectiveRulerOpacity,
		r.ShowFeed, r.ShowArrows, r.ShowMagnitude, r.ShowTrails, r.ShowPerspectiveRuler,
		r.IsActive, models.StatusUnknown,
	)

	st, err := scanStream(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Stream{}, conflictf("stream conflicts with an existing record")
		}
		return models.Stream{}, fmt.Errorf("insert stream: %w", err)
	}
	return st, nil
}

// GetStream fetches a single stream by id.
func (s *Store) GetStream(ctx context.Context, id string) (models.Stream, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM camera_streams WHERE id = $1`, id)
	st, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Stream{}, ErrNotFound
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

// ListStreams returns all streams, newest first.
func (s *Store) ListStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+streamColumns+` FROM camera_streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	streams := []models.Stream{}
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

// UpdateStream replaces all mutable fields of a stream with the resolved
// declaration. It returns the pre-update snapshot so the caller can diff
// config fingerprints.
func (s *Store) UpdateStream(ctx context.Context, id string, spec models.StreamSpec) (prev models.Stream, updated models.Stream, err error) {
	r, err := resolveSpec(spec)
	if err != nil {
		return models.Stream{}, models.Stream{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Stream{}, models.Stream{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM camera_streams WHERE id = $1 FOR UPDATE`, id)
	prev, err = scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Stream{}, models.Stream{}, ErrNotFound
	}
	if err != nil {
		return models.Stream{}, models.Stream{}, fmt.Errorf("lock stream: %w", err)
	}

	row = tx.QueryRowContext(ctx, `
		UPDATE camera_streams SET
			name = $2, rtsp_url = $3, location_name = $4, latitude = $5, longitude = $6,
			orientation_deg = $7, view_angle_deg = $8, view_distance_m = $9,
			camera_tilt_deg = $10, camera_height_m = $11,
			grid_size = $12, win_radius = $13, threshold = $14,
			arrow_scale = $15, arrow_opacity = $16, gradient_intensity = $17,
			perspective_ruler_opacity = $18,
			show_feed = $19, show_arrows = $20, show_magnitude = $21, show_trails = $22,
			show_perspective_ruler = $23, is_active = $24
		WHERE id = $1
		RETURNING `+streamColumns,
		id, r.Name, r.SourceURL, r.LocationName, r.Latitude, r.Longitude,
		r.OrientationDeg, r.ViewAngleDeg, r.ViewDistanceM, r.CameraTiltDeg, r.CameraHeightM,
		r.GridSize, r.WinRadius, r.Threshold,
		r.ArrowScale, r.ArrowOpacity, r.GradientIntensity, r.PerspectiveRulerOpacity,
		r.ShowFeed, r.ShowArrows, r.ShowMagnitude, r.ShowTrails, r.ShowPerspectiveRuler,
		r.IsActive,
	)
	updated, err = scanStream(row)
	if err != nil {
		return models.Stream{}, models.Stream{}, fmt.Errorf("update stream: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Stream{}, models.Stream{}, fmt.Errorf("commit update: %w", err)
	}
	return prev, updated, nil
}

// DeleteStream removes a stream record. Fails with a conflict while a
// worker handle is still attached; callers must deactivate first.
func (s *Store) DeleteStream(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var handle *string
	err = tx.QueryRowContext(ctx,
		`SELECT worker_container_name FROM camera_streams WHERE id = $1 FOR UPDATE`, id).Scan(&handle)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock stream: %w", err)
	}
	if handle != nil {
		return conflictf("stream %s still has worker %s attached", id, *handle)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM camera_streams WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	return tx.Commit()
}

// SetActive flips the desired-state flag without touching config fields.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (models.Stream, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE camera_streams SET is_active = $2 WHERE id = $1 RETURNING `+streamColumns,
		id, active)
	st, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Stream{}, ErrNotFound
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("set active: %w", err)
	}
	return st, nil
}

// RuntimeFacts is the reconciler-owned slice of a stream row. Handle,
// StartedAt and LastError are written as given (nil clears); Status is
// written when non-empty.
type RuntimeFacts struct {
	Handle    *string
	StartedAt *time.Time
	LastError *string
	Status    string
}

// SetRuntimeFacts partially updates the observed runtime columns. Used
// exclusively by the reconciler.
func (s *Store) SetRuntimeFacts(ctx context.Context, id string, facts RuntimeFacts) error {
	query := `
		UPDATE camera_streams SET
			worker_container_name = $2,
			worker_started_at = $3,
			last_error = $4,
			connection_status = COALESCE(NULLIF($5, ''), connection_status)
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, facts.Handle, facts.StartedAt, facts.LastError, facts.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return conflictf("worker handle already attached to another stream")
		}
		return fmt.Errorf("set runtime facts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
