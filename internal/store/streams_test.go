package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

var pqUniqueErr = pq.Error{Code: "23505", Message: "duplicate key value"}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, logrus.New()), mock
}

func streamColumnsList() []string {
	cols := strings.Split(streamColumns, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

func streamRow(id, name string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(streamColumnsList()).AddRow(
		id, name, "rtsp://cam.local/stream", nil, nil, nil,
		0.0, 60.0, 120.0, 15.0, 4.0,
		16, 8, 1.2,
		4.0, 90.0, 1.0, 70.0,
		true, true, false, false, true,
		false, nil, nil, nil, models.StatusUnknown, now,
	)
}

func TestCreateStreamValidation(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	bad := func(v float64) *float64 { return &v }
	badInt := func(v int) *int { return &v }

	tests := []struct {
		name string
		spec models.StreamSpec
		want string
	}{
		{
			name: "missing_name",
			spec: models.StreamSpec{SourceURL: "rtsp://x/y"},
			want: "name",
		},
		{
			name: "missing_url",
			spec: models.StreamSpec{Name: "bridge"},
			want: "rtsp_url",
		},
		{
			name: "latitude_out_of_range",
			spec: models.StreamSpec{Name: "bridge", SourceURL: "rtsp://x/y", Latitude: bad(91)},
			want: "latitude",
		},
		{
			name: "orientation_wraps",
			spec: models.StreamSpec{Name: "bridge", SourceURL: "rtsp://x/y", OrientationDeg: bad(360)},
			want: "orientation_deg",
		},
		{
			name: "grid_too_small",
			spec: models.StreamSpec{Name: "bridge", SourceURL: "rtsp://x/y", GridSize: badInt(2)},
			want: "grid_size",
		},
		{
			name: "arrow_scale_too_large",
			spec: models.StreamSpec{Name: "bridge", SourceURL: "rtsp://x/y", ArrowScale: bad(30)},
			want: "arrow_scale",
		},
		{
			name: "view_angle_too_narrow",
			spec: models.StreamSpec{Name: "bridge", SourceURL: "rtsp://x/y", ViewAngleDeg: bad(1)},
			want: "view_angle_deg",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := st.CreateStream(ctx, tc.spec)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestCreateStreamDefaults(t *testing.T) {
	r, err := resolveSpec(models.StreamSpec{Name: "bridge", SourceURL: "rtsp://x/y"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.GridSize != 16 || r.WinRadius != 8 {
		t.Fatalf("unexpected flow defaults: grid=%d win=%d", r.GridSize, r.WinRadius)
	}
	if r.Threshold != 1.2 {
		t.Fatalf("unexpected threshold default: %g", r.Threshold)
	}
	if r.ViewAngleDeg != 60 || r.ViewDistanceM != 120 || r.CameraTiltDeg != 15 || r.CameraHeightM != 4 {
		t.Fatalf("unexpected perspective defaults: %+v", r)
	}
	if !r.ShowFeed || !r.ShowArrows || r.ShowMagnitude || r.ShowTrails {
		t.Fatalf("unexpected overlay defaults: %+v", r)
	}
	if r.IsActive {
		t.Fatalf("streams must default to inactive")
	}
}

func TestCreateStreamConflict(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO camera_streams").
		WillReturnError(&pqUniqueErr)

	_, err := st.CreateStream(context.Background(), models.StreamSpec{
		Name: "bridge", SourceURL: "rtsp://x/y",
	})
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestGetStreamNotFound(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM camera_streams WHERE id").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := st.GetStream(context.Background(), "nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListStreams(t *testing.T) {
	st, mock := newTestStore(t)

	rows := streamRow("a", "first")
	mock.ExpectQuery("SELECT (.+) FROM camera_streams ORDER BY created_at DESC").
		WillReturnRows(rows)

	streams, err := st.ListStreams(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(streams) != 1 || streams[0].ID != "a" || streams[0].Name != "first" {
		t.Fatalf("unexpected result: %+v", streams)
	}
	if streams[0].ConnectionStatus != models.StatusUnknown {
		t.Fatalf("unexpected status: %s", streams[0].ConnectionStatus)
	}
}

func TestDeleteStreamConflictWhileWorkerAttached(t *testing.T) {
	st, mock := newTestStore(t)

	handle := "worker-a"
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT worker_container_name FROM camera_streams").
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"worker_container_name"}).AddRow(handle))
	mock.ExpectRollback()

	err := st.DeleteStream(context.Background(), "a")
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestDeleteStream(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT worker_container_name FROM camera_streams").
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"worker_container_name"}).AddRow(nil))
	mock.ExpectExec("DELETE FROM camera_streams").
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.DeleteStream(context.Background(), "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetRuntimeFactsNotFound(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectExec("UPDATE camera_streams SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.SetRuntimeFacts(context.Background(), "nope", RuntimeFacts{Status: models.StatusInactive})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetActive(t *testing.T) {
	st, mock := newTestStore(t)

	mock.ExpectQuery("UPDATE camera_streams SET is_active").
		WithArgs("a", true).
		WillReturnRows(streamRow("a", "bridge"))

	got, err := st.SetActive(context.Background(), "a", true)
	if err != nil {
		t.Fatalf("set active: %v", err)
	}
	if got.ID != "a" {
		t.Fatalf("unexpected stream: %+v", got)
	}
}
