package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/poolflow/internal/calibration"
	"github.com/banshee-data/poolflow/internal/geometry"
	"github.com/banshee-data/poolflow/internal/session"
	"github.com/banshee-data/poolflow/internal/testutil"
	"github.com/banshee-data/poolflow/internal/timeutil"
	"github.com/banshee-data/poolflow/internal/tracking"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func startSession(t *testing.T, db *DB, id string, started time.Time) {
	t.Helper()
	require.NoError(t, db.Sessions().Start(context.Background(), Session{
		SessionID:    id,
		Shape:        "circle",
		StartedAt:    started,
		CanvasWidth:  512,
		CanvasHeight: 512,
	}))
}

func pose(id int, x, y float64) tracking.Pose {
	return tracking.Pose{
		MarkerID:  id,
		World:     geometry.Pt(x, y),
		Velocity:  geometry.Pt(0.1, -0.2),
		Rotation:  45,
		Pixel:     image.Pt(int(x*100), int(y*100)),
		Timestamp: epoch,
	}
}

func TestOpenDB_PragmasApplied(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)

	var tempStore int
	require.NoError(t, db.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore)
}

func TestOpenDB_Migrated(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, LatestVersion, version)
	assert.False(t, dirty)

	for _, table := range []string{"tracking_sessions", "marker_poses", "flowmap_snapshots"} {
		var n int
		require.NoError(t, db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestOpenDB_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := OpenDB(path)
	require.NoError(t, err)
	startSession(t, db, "s1", epoch)
	require.NoError(t, db.Close())

	db, err = OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Sessions().Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "circle", got.Shape)
	assert.Equal(t, path, db.Path())
}

func TestMigrateDown(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='marker_poses'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, LatestVersion, version)
}

func TestSessionStore(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Sessions()

	startSession(t, db, "older", epoch)
	startSession(t, db, "newer", epoch.Add(time.Minute))

	got, err := store.Get(ctx, "older")
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(epoch))
	assert.Nil(t, got.StoppedAt)
	assert.Equal(t, 512, got.CanvasWidth)

	stopped := epoch.Add(30 * time.Second)
	require.NoError(t, store.Stop(ctx, "older", stopped))
	got, err = store.Get(ctx, "older")
	require.NoError(t, err)
	require.NotNil(t, got.StoppedAt)
	assert.True(t, got.StoppedAt.Equal(stopped))

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].SessionID)
	assert.Equal(t, "older", list[1].SessionID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Stop(ctx, "missing", stopped), ErrNotFound)
}

func TestSessionStore_DuplicateID(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	startSession(t, db, "dup", epoch)
	err := db.Sessions().Start(context.Background(), Session{SessionID: "dup", Shape: "circle", StartedAt: epoch})
	assert.Error(t, err)
}

func TestPoseStore_InsertBatchAndTrajectories(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Poses()

	startSession(t, db, "s1", epoch)
	startSession(t, db, "s2", epoch)

	require.NoError(t, store.InsertBatch(ctx, "s1", 1, []tracking.Pose{pose(7, 0.1, 0.1), pose(3, 0.5, 0.5)}))
	require.NoError(t, store.InsertBatch(ctx, "s1", 2, []tracking.Pose{pose(7, 0.2, 0.1), pose(3, 0.5, 0.6)}))
	require.NoError(t, store.InsertBatch(ctx, "s1", 3, []tracking.Pose{pose(7, 0.3, 0.1)}))
	require.NoError(t, store.InsertBatch(ctx, "s2", 1, []tracking.Pose{pose(9, 1, 1)}))
	require.NoError(t, store.InsertBatch(ctx, "s1", 4, nil))

	n, err := store.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := store.RecentTrajectories(ctx, "s1", 0)
	require.NoError(t, err)
	want := []Trajectory{
		{MarkerID: 3, Points: []geometry.Point{geometry.Pt(0.5, 0.5), geometry.Pt(0.5, 0.6)}},
		{MarkerID: 7, Points: []geometry.Point{geometry.Pt(0.1, 0.1), geometry.Pt(0.2, 0.1), geometry.Pt(0.3, 0.1)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentTrajectories mismatch (-want +got):\n%s", diff)
	}

	// Only the three newest rows: frame 3 marker 7, frame 2 markers 3 and 7.
	got, err = store.RecentTrajectories(ctx, "s1", 3)
	require.NoError(t, err)
	want = []Trajectory{
		{MarkerID: 3, Points: []geometry.Point{geometry.Pt(0.5, 0.6)}},
		{MarkerID: 7, Points: []geometry.Point{geometry.Pt(0.2, 0.1), geometry.Pt(0.3, 0.1)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentTrajectories(limit 3) mismatch (-want +got):\n%s", diff)
	}
}

func TestPoseStore_UnknownSessionRejected(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	err := db.Poses().InsertBatch(context.Background(), "nobody", 1, []tracking.Pose{pose(1, 0, 0)})
	assert.Error(t, err)
}

func TestSnapshotStore(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Snapshots()

	startSession(t, db, "s1", epoch)

	_, err := store.Latest(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	first := &Snapshot{SessionID: "s1", FrameIndex: 30, MaxVelocity: 0.5, JPEG: []byte{0xff, 0xd8, 1}}
	require.NoError(t, store.Insert(ctx, first))
	assert.NotEmpty(t, first.SnapshotID)
	assert.False(t, first.CreatedAt.IsZero())

	second := &Snapshot{SnapshotID: "fixed", SessionID: "s1", FrameIndex: 60, MaxVelocity: 0.75, JPEG: []byte{0xff, 0xd8, 2, 3}, CreatedAt: epoch}
	require.NoError(t, store.Insert(ctx, second))

	latest, err := store.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "fixed", latest.SnapshotID)
	assert.Equal(t, []byte{0xff, 0xd8, 2, 3}, latest.JPEG)
	assert.Equal(t, 4, latest.Size)
	assert.InDelta(t, 0.75, latest.MaxVelocity, 1e-12)
	assert.True(t, latest.CreatedAt.Equal(epoch))

	list, err := store.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 30, list[0].FrameIndex)
	assert.Equal(t, 3, list[0].Size)
	assert.Nil(t, list[0].JPEG)
	assert.Equal(t, 60, list[1].FrameIndex)
}

func TestRecorder_ImplementsSessionRecorder(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	clock := timeutil.NewMockClock(epoch.Add(time.Hour))

	var rec session.Recorder = NewRecorder(db, clock)
	require.NoError(t, rec.StartSession(ctx, session.SessionInfo{
		ID:        "rec",
		Shape:     calibration.ShapeRectangle,
		Canvas:    image.Pt(512, 256),
		StartedAt: epoch,
	}))
	require.NoError(t, rec.RecordPoses(ctx, "rec", 1, []tracking.Pose{pose(2, 0.4, 0.4)}))
	require.NoError(t, rec.RecordSnapshot(ctx, "rec", 30, 0.25, []byte{1, 2, 3}))
	require.NoError(t, rec.StopSession(ctx, "rec", epoch.Add(time.Minute)))

	sess, err := db.Sessions().Get(ctx, "rec")
	require.NoError(t, err)
	assert.Equal(t, "rectangle", sess.Shape)
	assert.Equal(t, 256, sess.CanvasHeight)
	require.NotNil(t, sess.StoppedAt)

	n, err := db.Poses().Count(ctx, "rec")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := db.Snapshots().Latest(ctx, "rec")
	require.NoError(t, err)
	assert.Equal(t, 30, snap.FrameIndex)
	assert.True(t, snap.CreatedAt.Equal(epoch.Add(time.Hour)))
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()

	calls := 0
	require.NoError(t, retryOnBusy(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	calls = 0
	assert.ErrorIs(t, retryOnBusy(func() error { calls++; return boom }), boom)
	assert.Equal(t, 1, calls, "non-busy errors are not retried")

	assert.False(t, isBusy(boom))
	assert.False(t, isBusy(nil))
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	startSession(t, db, "s1", epoch)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	t.Run("backup", func(t *testing.T) {
		rec := testutil.ServeDebug(mux, "/debug/backup")

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "backup-")

		zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		raw, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(raw, []byte("SQLite format 3\x00")))
	})

	t.Run("tailsql", func(t *testing.T) {
		rec := testutil.ServeDebug(mux, "/debug/tailsql/")
		assert.NotEqual(t, http.StatusNotFound, rec.Code)
		assert.NotEqual(t, http.StatusForbidden, rec.Code)
	})
}
