package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the catalog and session tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sql := `
		CREATE TABLE IF NOT EXISTS archive_records (
			file_id      UUID PRIMARY KEY,
			storage_key  TEXT NOT NULL,
			filename     TEXT NOT NULL,
			size         BIGINT NOT NULL,
			tags         JSONB NOT NULL DEFAULT '[]',
			content_type TEXT NOT NULL,
			policy       TEXT NOT NULL,
			status       TEXT NOT NULL,
			fingerprint  TEXT NOT NULL,
			error_cause  TEXT,
			archived_at  TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_archive_records_storage_key
		ON archive_records (storage_key);

		CREATE TABLE IF NOT EXISTS upload_sessions (
			upload_id    TEXT PRIMARY KEY,
			storage_key  TEXT NOT NULL,
			name         TEXT NOT NULL,
			content_type TEXT NOT NULL,
			total_size   BIGINT NOT NULL,
			chunk_size   BIGINT NOT NULL,
			part_count   INTEGER NOT NULL,
			state        TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_upload_sessions_created_at
		ON upload_sessions (created_at);
	`

	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}
