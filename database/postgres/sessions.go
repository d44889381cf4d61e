package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkivehq/arkive"
)

// Sessions implements arkive.SessionRepo over a pgx connection pool.
type Sessions struct {
	pool *pgxpool.Pool
}

// NewSessions returns a Sessions repository over pool.
func NewSessions(pool *pgxpool.Pool) (*Sessions, error) {
	if pool == nil {
		return nil, errors.New("new postgres sessions: pool cannot be nil")
	}
	return &Sessions{pool: pool}, nil
}

// Save inserts or updates the session keyed by upload ID. Only the state
// changes after creation.
func (s *Sessions) Save(ctx context.Context, session arkive.UploadSession) error {
	query := `
		INSERT INTO upload_sessions
			(upload_id, storage_key, name, content_type, total_size, chunk_size, part_count, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (upload_id) DO UPDATE SET state = EXCLUDED.state
	`

	_, err := s.pool.Exec(ctx, query,
		session.ID, session.Key, session.Name, session.ContentType,
		session.TotalSize, session.ChunkSize, session.PartCount,
		string(session.State), session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save upload session %s: %w", session.ID, err)
	}
	return nil
}

// Get retrieves a session by upload ID. Returns arkive.ErrNotFound when
// absent.
func (s *Sessions) Get(ctx context.Context, uploadID string) (arkive.UploadSession, error) {
	query := `
		SELECT upload_id, storage_key, name, content_type, total_size, chunk_size, part_count, state, created_at
		FROM upload_sessions
		WHERE upload_id = $1
	`

	session, err := scanSession(s.pool.QueryRow(ctx, query, uploadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return arkive.UploadSession{}, arkive.ErrNotFound
		}
		return arkive.UploadSession{}, fmt.Errorf("get upload session %s: %w", uploadID, err)
	}
	return session, nil
}

// Delete removes a session. Deleting an absent session is a no-op so the
// abort path stays idempotent.
func (s *Sessions) Delete(ctx context.Context, uploadID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM upload_sessions WHERE upload_id = $1`, uploadID); err != nil {
		return fmt.Errorf("delete upload session %s: %w", uploadID, err)
	}
	return nil
}

// ListExpired returns non-terminal sessions created before cutoff.
func (s *Sessions) ListExpired(ctx context.Context, cutoff time.Time) ([]arkive.UploadSession, error) {
	query := `
		SELECT upload_id, storage_key, name, content_type, total_size, chunk_size, part_count, state, created_at
		FROM upload_sessions
		WHERE created_at < $1 AND state NOT IN ($2, $3)
	`

	rows, err := s.pool.Query(ctx, query, cutoff,
		string(arkive.SessionCommitted), string(arkive.SessionAborted))
	if err != nil {
		return nil, fmt.Errorf("list expired upload sessions: %w", err)
	}
	defer rows.Close()

	var sessions []arkive.UploadSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list expired upload sessions: scan: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired upload sessions: rows: %w", err)
	}
	return sessions, nil
}

func scanSession(row pgx.Row) (arkive.UploadSession, error) {
	var session arkive.UploadSession
	var state string
	err := row.Scan(&session.ID, &session.Key, &session.Name, &session.ContentType,
		&session.TotalSize, &session.ChunkSize, &session.PartCount, &state, &session.CreatedAt)
	if err != nil {
		return arkive.UploadSession{}, err
	}
	session.State = arkive.SessionState(state)
	return session, nil
}
