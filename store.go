package arkive

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// ObjectStore is the opaque store capability the pipeline writes to. It
// accepts byte ranges, returns content fingerprints, and supports a
// multi-part-then-commit protocol. Implementations can target S3-compatible
// stores or the local filesystem.
//
// All methods accept a context for cancellation and timeout control.
type ObjectStore interface {
	// Put writes the whole object in one call (single-shot path) and
	// returns the store's content fingerprint.
	Put(ctx context.Context, key, contentType string, content io.Reader, size int64) (string, error)

	// CreateMultipart opens a multi-part upload session for key and returns
	// the store-issued upload ID.
	CreateMultipart(ctx context.Context, key, contentType string) (string, error)

	// PresignPart issues a time-bounded write capability scoped to exactly
	// one part of one upload. Capabilities must not be reusable for a
	// different part or session.
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (Capability, error)

	// CompleteMultipart commits the session by supplying every part receipt
	// in part order. Store commits are not repeatable once applied.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []PartRecord) (string, error)

	// AbortMultipart releases all store-side resources for a non-committed
	// session. It is idempotent: aborting an unknown or already-aborted
	// upload is a no-op, not an error.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// PresignGet issues a time-bounded read URL for a stored object.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Delete removes a committed object. Used to clean up stored bytes when
	// catalog registration of a single-shot put cannot be completed.
	Delete(ctx context.Context, key string) error
}

// Catalog is the durable record store for archived-object metadata. It is an
// external collaborator: search and listing features consult it, the upload
// pipeline only writes it at commit time.
type Catalog interface {
	// Upsert inserts or replaces the record identified by rec.FileID. It
	// must be idempotent: re-applying the same record is not an error, so
	// the reconciler can retry catalog registration without re-running the
	// store commit.
	Upsert(ctx context.Context, rec ArchiveRecord) (ArchiveRecord, error)

	// Get retrieves a record by file ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, fileID uuid.UUID) (ArchiveRecord, error)

	// MarkError transitions a record's status to error with a diagnostic
	// cause. Used only for unrecoverable failures after a record exists.
	MarkError(ctx context.Context, fileID uuid.UUID, cause string) error
}

// SessionRepo persists the minimal upload-session state needed to serve
// part-capability and completion requests and to abort orphaned sessions
// after a timeout.
type SessionRepo interface {
	// Save inserts or updates the session keyed by its upload ID.
	Save(ctx context.Context, s UploadSession) error

	// Get retrieves a session by upload ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, uploadID string) (UploadSession, error)

	// Delete removes a session record. Deleting an absent session is a
	// no-op so abort stays idempotent.
	Delete(ctx context.Context, uploadID string) error

	// ListExpired returns non-terminal sessions created before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]UploadSession, error)
}
