package arkive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ValidatePartSet checks that parts cover exactly {1..expected} with no gaps
// or duplicates and that every record carries a receipt token. Arrival order
// does not matter.
func ValidatePartSet(parts []PartRecord, expected int) error {
	seen := make(map[int]int, len(parts))
	var rerr ReconciliationError

	for _, p := range parts {
		seen[p.Number]++
		if seen[p.Number] == 2 {
			rerr.DuplicateParts = append(rerr.DuplicateParts, p.Number)
		}
		if p.Receipt == "" {
			rerr.EmptyReceipts = append(rerr.EmptyReceipts, p.Number)
		}
	}
	for n := 1; n <= expected; n++ {
		if seen[n] == 0 {
			rerr.MissingParts = append(rerr.MissingParts, n)
		}
	}
	for n := range seen {
		if n < 1 || n > expected {
			rerr.DuplicateParts = append(rerr.DuplicateParts, n)
		}
	}

	if len(rerr.MissingParts) > 0 || len(rerr.DuplicateParts) > 0 || len(rerr.EmptyReceipts) > 0 {
		return &rerr
	}
	return nil
}

// Reconciler turns a complete set of part receipts into one durable,
// catalog-visible object. The store commit happens at most once; catalog
// registration is retried with the same file ID (idempotent upsert) so a
// commit is never re-run.
type Reconciler struct {
	store        ObjectStore
	catalog      Catalog
	catalogRetry RetryPolicy
}

// NewReconciler returns a Reconciler over the given collaborators.
func NewReconciler(store ObjectStore, catalog Catalog, catalogRetry RetryPolicy) *Reconciler {
	if catalogRetry.MaxAttempts == 0 {
		catalogRetry = DefaultRetryPolicy()
	}
	return &Reconciler{store: store, catalog: catalog, catalogRetry: catalogRetry}
}

// Complete validates the part set, commits the store session, and registers
// the archive in the catalog. On any precondition failure the session is
// aborted, never left partially committed. The returned record has status
// archived.
func (r *Reconciler) Complete(ctx context.Context, session *UploadSession, parts []PartRecord, meta ArchiveMeta) (ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return ArchiveRecord{}, fmt.Errorf("complete upload: %w", err)
	}

	if err := session.Transition(SessionReconciling); err != nil {
		return ArchiveRecord{}, fmt.Errorf("complete upload: %w", err)
	}

	if err := ValidatePartSet(parts, session.PartCount); err != nil {
		r.abort(session)
		return ArchiveRecord{}, fmt.Errorf("complete upload %s: %w", session.ID, err)
	}

	fingerprint, err := r.store.CompleteMultipart(ctx, session.Key, session.ID, parts)
	if err != nil {
		r.abort(session)
		return ArchiveRecord{}, fmt.Errorf("complete upload %s: store commit: %w", session.ID, err)
	}

	if err := session.Transition(SessionCommitted); err != nil {
		return ArchiveRecord{}, fmt.Errorf("complete upload: %w", err)
	}

	rec := ArchiveRecord{
		FileID:      uuid.New(),
		StorageKey:  session.Key,
		Filename:    session.Name,
		Size:        session.TotalSize,
		Tags:        meta.Tags,
		ContentType: session.ContentType,
		Policy:      meta.Policy,
		Status:      StatusArchived,
		Fingerprint: fingerprint,
		ArchivedAt:  time.Now().UTC(),
	}

	registered, err := r.Register(ctx, rec)
	if err != nil {
		// The store commit is not repeatable; surface the failure without
		// touching the committed object.
		return ArchiveRecord{}, fmt.Errorf("complete upload %s: catalog registration: %w", session.ID, err)
	}
	return registered, nil
}

// Register upserts rec into the catalog, retrying transient failures with
// the same file ID.
func (r *Reconciler) Register(ctx context.Context, rec ArchiveRecord) (ArchiveRecord, error) {
	var registered ArchiveRecord
	err := r.catalogRetry.Do(ctx, func(attempt int) error {
		var upsertErr error
		registered, upsertErr = r.catalog.Upsert(ctx, rec)
		if upsertErr != nil && attempt > 1 {
			slog.Warn("catalog upsert retry failed", "file_id", rec.FileID, "attempt", attempt, "err", upsertErr)
		}
		return upsertErr
	})
	if err != nil {
		return ArchiveRecord{}, err
	}
	return registered, nil
}

// abort releases store-side session resources after a failed reconciliation.
// It uses a background context so cleanup survives caller cancellation.
func (r *Reconciler) abort(session *UploadSession) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.store.AbortMultipart(cleanupCtx, session.Key, session.ID); err != nil {
		slog.Warn("abort after failed reconciliation", "upload_id", session.ID, "err", err)
	}
	if session.State != SessionAborted {
		_ = session.Transition(SessionAborted)
	}
}
