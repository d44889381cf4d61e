package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arkivehq/arkive"
)

// Sessions implements arkive.SessionRepo over a SQLite database.
type Sessions struct {
	db *sql.DB
}

// NewSessions returns a Sessions repository over db.
func NewSessions(db *sql.DB) (*Sessions, error) {
	if db == nil {
		return nil, errors.New("new sqlite sessions: db cannot be nil")
	}
	return &Sessions{db: db}, nil
}

// Save inserts or updates the session keyed by upload ID. Only the state
// changes after creation, the rest of the row is immutable session shape.
func (s *Sessions) Save(ctx context.Context, session arkive.UploadSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_sessions
			(upload_id, storage_key, name, content_type, total_size, chunk_size, part_count, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (upload_id) DO UPDATE SET state = excluded.state`,
		session.ID, session.Key, session.Name, session.ContentType,
		session.TotalSize, session.ChunkSize, session.PartCount,
		string(session.State), session.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save upload session %s: %w", session.ID, err)
	}
	return nil
}

// Get retrieves a session by upload ID. Returns arkive.ErrNotFound when
// absent.
func (s *Sessions) Get(ctx context.Context, uploadID string) (arkive.UploadSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT upload_id, storage_key, name, content_type, total_size, chunk_size, part_count, state, created_at
		FROM upload_sessions WHERE upload_id = ?`, uploadID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return arkive.UploadSession{}, arkive.ErrNotFound
	}
	if err != nil {
		return arkive.UploadSession{}, fmt.Errorf("get upload session %s: %w", uploadID, err)
	}
	return session, nil
}

// Delete removes a session. Deleting an absent session is a no-op so the
// abort path stays idempotent.
func (s *Sessions) Delete(ctx context.Context, uploadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM upload_sessions WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("delete upload session %s: %w", uploadID, err)
	}
	return nil
}

// ListExpired returns non-terminal sessions created before cutoff.
func (s *Sessions) ListExpired(ctx context.Context, cutoff time.Time) ([]arkive.UploadSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT upload_id, storage_key, name, content_type, total_size, chunk_size, part_count, state, created_at
		FROM upload_sessions
		WHERE created_at < ? AND state NOT IN (?, ?)`,
		cutoff.UTC().Format(time.RFC3339Nano),
		string(arkive.SessionCommitted), string(arkive.SessionAborted),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired upload sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []arkive.UploadSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list expired upload sessions: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired upload sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (arkive.UploadSession, error) {
	var session arkive.UploadSession
	var state, createdAt string
	err := row.Scan(&session.ID, &session.Key, &session.Name, &session.ContentType,
		&session.TotalSize, &session.ChunkSize, &session.PartCount, &state, &createdAt)
	if err != nil {
		return arkive.UploadSession{}, err
	}
	session.State = arkive.SessionState(state)
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return arkive.UploadSession{}, fmt.Errorf("parse created_at: %w", err)
	}
	return session, nil
}
