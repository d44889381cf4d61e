// Package sqlite implements the catalog and session repositories on SQLite
// via database/sql and the modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arkivehq/arkive"
)

// Catalog implements arkive.Catalog over a SQLite database.
type Catalog struct {
	db *sql.DB
}

// NewCatalog returns a Catalog over db.
func NewCatalog(db *sql.DB) (*Catalog, error) {
	if db == nil {
		return nil, errors.New("new sqlite catalog: db cannot be nil")
	}
	return &Catalog{db: db}, nil
}

// Upsert inserts or replaces the record keyed by file_id. Re-applying the
// same record is not an error, so catalog registration can be retried
// without re-running a store commit.
func (c *Catalog) Upsert(ctx context.Context, rec arkive.ArchiveRecord) (arkive.ArchiveRecord, error) {
	tags, err := json.Marshal(tagsOrEmpty(rec.Tags))
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("upsert archive record: marshal tags: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO archive_records
			(file_id, storage_key, filename, size, tags, content_type, policy, status, fingerprint, archived_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_id) DO UPDATE SET
			storage_key  = excluded.storage_key,
			filename     = excluded.filename,
			size         = excluded.size,
			tags         = excluded.tags,
			content_type = excluded.content_type,
			policy       = excluded.policy,
			status       = excluded.status,
			fingerprint  = excluded.fingerprint,
			archived_at  = excluded.archived_at,
			updated_at   = excluded.updated_at`,
		rec.FileID.String(), rec.StorageKey, rec.Filename, rec.Size, string(tags),
		rec.ContentType, string(rec.Policy), string(rec.Status), rec.Fingerprint,
		rec.ArchivedAt.UTC().Format(time.RFC3339Nano), now,
	)
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("upsert archive record %s: %w", rec.FileID, err)
	}
	return c.Get(ctx, rec.FileID)
}

// Get retrieves a record by file ID. Returns arkive.ErrNotFound when absent.
func (c *Catalog) Get(ctx context.Context, fileID uuid.UUID) (arkive.ArchiveRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT file_id, storage_key, filename, size, tags, content_type, policy, status, fingerprint, archived_at
		FROM archive_records WHERE file_id = ?`, fileID.String())

	var rec arkive.ArchiveRecord
	var id, tags, policy, status, archivedAt string
	err := row.Scan(&id, &rec.StorageKey, &rec.Filename, &rec.Size, &tags,
		&rec.ContentType, &policy, &status, &rec.Fingerprint, &archivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return arkive.ArchiveRecord{}, arkive.ErrNotFound
	}
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("get archive record %s: %w", fileID, err)
	}

	if rec.FileID, err = uuid.Parse(id); err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("get archive record %s: parse id: %w", fileID, err)
	}
	if err = json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("get archive record %s: parse tags: %w", fileID, err)
	}
	if rec.ArchivedAt, err = time.Parse(time.RFC3339Nano, archivedAt); err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("get archive record %s: parse archived_at: %w", fileID, err)
	}
	rec.Policy = arkive.RetentionPolicy(policy)
	rec.Status = arkive.ArchiveStatus(status)
	return rec, nil
}

// MarkError transitions a record's status to error with a diagnostic cause.
func (c *Catalog) MarkError(ctx context.Context, fileID uuid.UUID, cause string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE archive_records SET status = ?, error_cause = ?, updated_at = ?
		WHERE file_id = ?`,
		string(arkive.StatusError), cause, time.Now().UTC().Format(time.RFC3339Nano), fileID.String())
	if err != nil {
		return fmt.Errorf("mark archive record error %s: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark archive record error %s: %w", fileID, err)
	}
	if n == 0 {
		return arkive.ErrNotFound
	}
	return nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
