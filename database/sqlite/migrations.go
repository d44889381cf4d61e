package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the catalog and session tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS archive_records (
			file_id      TEXT PRIMARY KEY,
			storage_key  TEXT NOT NULL,
			filename     TEXT NOT NULL,
			size         INTEGER NOT NULL,
			tags         TEXT NOT NULL DEFAULT '[]',
			content_type TEXT NOT NULL,
			policy       TEXT NOT NULL,
			status       TEXT NOT NULL,
			fingerprint  TEXT NOT NULL,
			error_cause  TEXT,
			archived_at  TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archive_records_storage_key
			ON archive_records (storage_key)`,
		`CREATE TABLE IF NOT EXISTS upload_sessions (
			upload_id    TEXT PRIMARY KEY,
			storage_key  TEXT NOT NULL,
			name         TEXT NOT NULL,
			content_type TEXT NOT NULL,
			total_size   INTEGER NOT NULL,
			chunk_size   INTEGER NOT NULL,
			part_count   INTEGER NOT NULL,
			state        TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_sessions_created_at
			ON upload_sessions (created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}
