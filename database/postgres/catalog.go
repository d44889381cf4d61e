// Package postgres implements the catalog and session repositories on
// PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkivehq/arkive"
)

// Catalog implements arkive.Catalog over a pgx connection pool.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog returns a Catalog over pool.
func NewCatalog(pool *pgxpool.Pool) (*Catalog, error) {
	if pool == nil {
		return nil, errors.New("new postgres catalog: pool cannot be nil")
	}
	return &Catalog{pool: pool}, nil
}

// Ping verifies database connectivity.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Upsert inserts or replaces the record keyed by file_id. Re-applying the
// same record is not an error, so catalog registration can be retried
// without re-running a store commit.
func (c *Catalog) Upsert(ctx context.Context, rec arkive.ArchiveRecord) (arkive.ArchiveRecord, error) {
	query := `
		INSERT INTO archive_records
			(file_id, storage_key, filename, size, tags, content_type, policy, status, fingerprint, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (file_id) DO UPDATE
		SET storage_key  = EXCLUDED.storage_key,
			filename     = EXCLUDED.filename,
			size         = EXCLUDED.size,
			tags         = EXCLUDED.tags,
			content_type = EXCLUDED.content_type,
			policy       = EXCLUDED.policy,
			status       = EXCLUDED.status,
			fingerprint  = EXCLUDED.fingerprint,
			archived_at  = EXCLUDED.archived_at,
			updated_at   = NOW()
		RETURNING file_id, storage_key, filename, size, tags, content_type, policy, status, fingerprint, archived_at
	`

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	var out arkive.ArchiveRecord
	var policy, status string
	err := c.pool.QueryRow(ctx, query,
		rec.FileID, rec.StorageKey, rec.Filename, rec.Size, tags,
		rec.ContentType, string(rec.Policy), string(rec.Status), rec.Fingerprint, rec.ArchivedAt,
	).Scan(&out.FileID, &out.StorageKey, &out.Filename, &out.Size, &out.Tags,
		&out.ContentType, &policy, &status, &out.Fingerprint, &out.ArchivedAt)
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("upsert archive record %s: %w", rec.FileID, err)
	}
	out.Policy = arkive.RetentionPolicy(policy)
	out.Status = arkive.ArchiveStatus(status)
	return out, nil
}

// Get retrieves a record by file ID. Returns arkive.ErrNotFound when absent.
func (c *Catalog) Get(ctx context.Context, fileID uuid.UUID) (arkive.ArchiveRecord, error) {
	query := `
		SELECT file_id, storage_key, filename, size, tags, content_type, policy, status, fingerprint, archived_at
		FROM archive_records
		WHERE file_id = $1
	`

	var rec arkive.ArchiveRecord
	var policy, status string
	err := c.pool.QueryRow(ctx, query, fileID).Scan(
		&rec.FileID, &rec.StorageKey, &rec.Filename, &rec.Size, &rec.Tags,
		&rec.ContentType, &policy, &status, &rec.Fingerprint, &rec.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return arkive.ArchiveRecord{}, arkive.ErrNotFound
		}
		return arkive.ArchiveRecord{}, fmt.Errorf("get archive record %s: %w", fileID, err)
	}
	rec.Policy = arkive.RetentionPolicy(policy)
	rec.Status = arkive.ArchiveStatus(status)
	return rec, nil
}

// MarkError transitions a record's status to error with a diagnostic cause.
func (c *Catalog) MarkError(ctx context.Context, fileID uuid.UUID, cause string) error {
	query := `
		UPDATE archive_records
		SET status = $1, error_cause = $2, updated_at = NOW()
		WHERE file_id = $3
	`

	result, err := c.pool.Exec(ctx, query, string(arkive.StatusError), cause, fileID)
	if err != nil {
		return fmt.Errorf("mark archive record error %s: %w", fileID, err)
	}
	if result.RowsAffected() == 0 {
		return arkive.ErrNotFound
	}
	return nil
}
