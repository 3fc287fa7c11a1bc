package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot is an accumulated flow-map JPEG captured during a session.
type Snapshot struct {
	SnapshotID  string    `json:"snapshot_id"`
	SessionID   string    `json:"session_id"`
	FrameIndex  int       `json:"frame_index"`
	MaxVelocity float64   `json:"max_velocity"`
	JPEG        []byte    `json:"-"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// SnapshotStore persists flow-map snapshots.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Insert persists a snapshot. If SnapshotID is empty, a UUID is generated;
// a zero CreatedAt is set to now.
func (s *SnapshotStore) Insert(ctx context.Context, snap *Snapshot) error {
	if snap.SnapshotID == "" {
		snap.SnapshotID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	snap.Size = len(snap.JPEG)

	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO flowmap_snapshots (snapshot_id, session_id, frame_index, max_velocity, jpeg, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			snap.SnapshotID,
			snap.SessionID,
			snap.FrameIndex,
			snap.MaxVelocity,
			snap.JPEG,
			snap.CreatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting snapshot %s: %w", snap.SnapshotID, err)
	}
	return nil
}

// Latest returns the highest-frame snapshot of a session, including its JPEG.
func (s *SnapshotStore) Latest(ctx context.Context, sessionID string) (*Snapshot, error) {
	var (
		snap    Snapshot
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, session_id, frame_index, max_velocity, jpeg, created_at
		FROM flowmap_snapshots
		WHERE session_id = ?
		ORDER BY frame_index DESC, created_at DESC
		LIMIT 1
	`, sessionID).Scan(&snap.SnapshotID, &snap.SessionID, &snap.FrameIndex, &snap.MaxVelocity, &snap.JPEG, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest snapshot for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot for session %s: %w", sessionID, err)
	}
	snap.Size = len(snap.JPEG)
	snap.CreatedAt = time.Unix(0, created).UTC()
	return &snap, nil
}

// List returns snapshot metadata for a session in frame order. JPEG bytes
// are not loaded.
func (s *SnapshotStore) List(ctx context.Context, sessionID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, session_id, frame_index, max_velocity, length(jpeg), created_at
		FROM flowmap_snapshots
		WHERE session_id = ?
		ORDER BY frame_index ASC, created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap    Snapshot
			created int64
		)
		if err := rows.Scan(&snap.SnapshotID, &snap.SessionID, &snap.FrameIndex, &snap.MaxVelocity, &snap.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snap.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}
