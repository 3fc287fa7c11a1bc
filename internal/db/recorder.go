package db

import (
	"context"
	"time"

	"github.com/banshee-data/poolflow/internal/session"
	"github.com/banshee-data/poolflow/internal/timeutil"
	"github.com/banshee-data/poolflow/internal/tracking"
)

// Recorder writes tracking session output to the record store. It
// satisfies session.Recorder.
type Recorder struct {
	sessions  *SessionStore
	poses     *PoseStore
	snapshots *SnapshotStore
	clock     timeutil.Clock
}

var _ session.Recorder = (*Recorder)(nil)

// NewRecorder binds a Recorder to db. A nil clock uses wall time.
func NewRecorder(db *DB, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{
		sessions:  db.Sessions(),
		poses:     db.Poses(),
		snapshots: db.Snapshots(),
		clock:     clock,
	}
}

func (r *Recorder) StartSession(ctx context.Context, info session.SessionInfo) error {
	return r.sessions.Start(ctx, Session{
		SessionID:    info.ID,
		Shape:        info.Shape.String(),
		StartedAt:    info.StartedAt,
		CanvasWidth:  info.Canvas.X,
		CanvasHeight: info.Canvas.Y,
	})
}

func (r *Recorder) RecordPoses(ctx context.Context, sessionID string, frameIndex int, poses []tracking.Pose) error {
	return r.poses.InsertBatch(ctx, sessionID, frameIndex, poses)
}

func (r *Recorder) RecordSnapshot(ctx context.Context, sessionID string, frameIndex int, maxVelocity float64, jpeg []byte) error {
	return r.snapshots.Insert(ctx, &Snapshot{
		SessionID:   sessionID,
		FrameIndex:  frameIndex,
		MaxVelocity: maxVelocity,
		JPEG:        jpeg,
		CreatedAt:   r.clock.Now(),
	})
}

func (r *Recorder) StopSession(ctx context.Context, sessionID string, stoppedAt time.Time) error {
	return r.sessions.Stop(ctx, sessionID, stoppedAt)
}
