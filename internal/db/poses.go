package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/banshee-data/poolflow/internal/geometry"
	"github.com/banshee-data/poolflow/internal/tracking"
)

// PoseStore persists per-frame marker poses.
type PoseStore struct {
	db *sql.DB
}

// NewPoseStore creates a new PoseStore.
func NewPoseStore(db *sql.DB) *PoseStore {
	return &PoseStore{db: db}
}

// InsertBatch writes every pose of one frame in a single transaction.
func (s *PoseStore) InsertBatch(ctx context.Context, sessionID string, frameIndex int, poses []tracking.Pose) error {
	if len(poses) == 0 {
		return nil
	}
	err := retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO marker_poses (
				session_id, frame_index, marker_id, world_x, world_y,
				velocity_x, velocity_y, rotation, pixel_x, pixel_y,
				predicted, missed_frames, ts_unix_nanos
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range poses {
			if _, err := stmt.ExecContext(ctx,
				sessionID, frameIndex, p.MarkerID,
				p.World.X, p.World.Y,
				p.Velocity.X, p.Velocity.Y,
				p.Rotation,
				p.Pixel.X, p.Pixel.Y,
				p.Predicted, p.MissedFrames,
				p.Timestamp.UnixNano(),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("inserting %d poses for session %s frame %d: %w", len(poses), sessionID, frameIndex, err)
	}
	return nil
}

// Count returns the number of poses recorded for a session.
func (s *PoseStore) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM marker_poses WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting poses for session %s: %w", sessionID, err)
	}
	return n, nil
}

// Trajectory is the world-space path of one marker, oldest point first.
type Trajectory struct {
	MarkerID int
	Points   []geometry.Point
}

// RecentTrajectories returns the paths traced by each marker over the last
// limit recorded poses of a session, ordered by marker ID.
func (s *PoseStore) RecentTrajectories(ctx context.Context, sessionID string, limit int) ([]Trajectory, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT marker_id, world_x, world_y FROM (
			SELECT rowid AS seq, marker_id, world_x, world_y, frame_index
			FROM marker_poses
			WHERE session_id = ?
			ORDER BY frame_index DESC, seq DESC
			LIMIT ?
		)
		ORDER BY frame_index ASC, seq ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying trajectories for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	byMarker := make(map[int]*Trajectory)
	for rows.Next() {
		var (
			id   int
			x, y float64
		)
		if err := rows.Scan(&id, &x, &y); err != nil {
			return nil, fmt.Errorf("scanning pose: %w", err)
		}
		tr, ok := byMarker[id]
		if !ok {
			tr = &Trajectory{MarkerID: id}
			byMarker[id] = tr
		}
		tr.Points = append(tr.Points, geometry.Pt(x, y))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Trajectory, 0, len(byMarker))
	for _, tr := range byMarker {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarkerID < out[j].MarkerID })
	return out, nil
}
