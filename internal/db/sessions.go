package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is one tracking session: the span between a tracking start and
// the stop that ended it.
type Session struct {
	SessionID    string     `json:"session_id"`
	Shape        string     `json:"shape"`
	StartedAt    time.Time  `json:"started_at"`
	StoppedAt    *time.Time `json:"stopped_at,omitempty"`
	CanvasWidth  int        `json:"canvas_width"`
	CanvasHeight int        `json:"canvas_height"`
}

// SessionStore provides persistence for tracking sessions.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Start inserts a session record.
func (s *SessionStore) Start(ctx context.Context, sess Session) error {
	query := `
		INSERT INTO tracking_sessions (session_id, shape, started_at, canvas_width, canvas_height)
		VALUES (?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.SessionID,
			sess.Shape,
			sess.StartedAt.UnixNano(),
			sess.CanvasWidth,
			sess.CanvasHeight,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.SessionID, err)
	}
	return nil
}

// Stop records the time a session ended. Stopping an unknown session
// returns ErrNotFound.
func (s *SessionStore) Stop(ctx context.Context, sessionID string, stoppedAt time.Time) error {
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tracking_sessions SET stopped_at = ? WHERE session_id = ?`,
			stoppedAt.UnixNano(), sessionID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("stopping session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("stopping session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// Get returns a single session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, shape, started_at, stopped_at, canvas_width, canvas_height
		FROM tracking_sessions
		WHERE session_id = ?
	`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", sessionID, err)
	}
	return sess, nil
}

// List returns the most recent sessions, newest first.
func (s *SessionStore) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, shape, started_at, stopped_at, canvas_width, canvas_height
		FROM tracking_sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var (
		sess      Session
		startedAt int64
		stoppedAt sql.NullInt64
	)
	if err := sc.Scan(&sess.SessionID, &sess.Shape, &startedAt, &stoppedAt, &sess.CanvasWidth, &sess.CanvasHeight); err != nil {
		return nil, err
	}
	sess.StartedAt = time.Unix(0, startedAt).UTC()
	if stoppedAt.Valid {
		t := time.Unix(0, stoppedAt.Int64).UTC()
		sess.StoppedAt = &t
	}
	return &sess, nil
}
