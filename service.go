package arkive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ServiceConfig holds configuration options for ArchiveService.
type ServiceConfig struct {
	// CapabilityTTL is the validity window of issued part capabilities
	// (default: 15m).
	CapabilityTTL time.Duration
	// DownloadTTL is the validity window of presigned download URLs
	// (default: 1h).
	DownloadTTL time.Duration
	// SessionMaxAge is the age past which non-completed sessions are
	// reaped (default: 24h).
	SessionMaxAge time.Duration
	// CleanupTimeout bounds best-effort cleanup performed on background
	// contexts (default: 30s).
	CleanupTimeout time.Duration
	// CatalogRetry is the retry schedule for idempotent catalog upserts.
	CatalogRetry RetryPolicy
}

func (c *ServiceConfig) applyDefaults() {
	if c.CapabilityTTL <= 0 {
		c.CapabilityTTL = 15 * time.Minute
	}
	if c.DownloadTTL <= 0 {
		c.DownloadTTL = time.Hour
	}
	if c.SessionMaxAge <= 0 {
		c.SessionMaxAge = 24 * time.Hour
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 30 * time.Second
	}
	if c.CatalogRetry.MaxAttempts == 0 {
		c.CatalogRetry = DefaultRetryPolicy()
	}
}

// ArchiveService is the origin-service side of the pipeline: it opens upload
// sessions against the object store, issues per-part write capabilities,
// reconciles completions into catalog records, and serves the single-shot
// path for small payloads.
type ArchiveService struct {
	store      ObjectStore
	catalog    Catalog
	sessions   SessionRepo
	strategist *Strategist
	reconciler *Reconciler
	cfg        ServiceConfig
}

// NewArchiveService wires an ArchiveService from its collaborators.
func NewArchiveService(store ObjectStore, catalog Catalog, sessions SessionRepo, strategist *Strategist, cfg ServiceConfig) (*ArchiveService, error) {
	if store == nil || catalog == nil || sessions == nil {
		return nil, fmt.Errorf("new archive service: %w: nil collaborator", ErrInvalidInput)
	}
	if strategist == nil {
		var err error
		strategist, err = NewStrategist(StrategistConfig{})
		if err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()

	return &ArchiveService{
		store:      store,
		catalog:    catalog,
		sessions:   sessions,
		strategist: strategist,
		reconciler: NewReconciler(store, catalog, cfg.CatalogRetry),
		cfg:        cfg,
	}, nil
}

// StartUpload opens a multi-part upload session for an archive of totalSize
// bytes. The returned session carries the chunk size and expected part count
// the flow must honor, so client and service always agree on part layout.
func (s *ArchiveService) StartUpload(ctx context.Context, name, contentType string, totalSize int64) (UploadSession, error) {
	if err := ctx.Err(); err != nil {
		return UploadSession{}, fmt.Errorf("start upload: %w", err)
	}
	if !IsValidKey(name) {
		return UploadSession{}, fmt.Errorf("start upload %q: %w: invalid name", name, ErrInvalidInput)
	}
	if totalSize == 0 {
		return UploadSession{}, fmt.Errorf("start upload %q: %w", name, ErrEmptyArchive)
	}
	if totalSize < 0 {
		return UploadSession{}, fmt.Errorf("start upload %q: %w: negative size", name, ErrInvalidInput)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadID, err := s.store.CreateMultipart(ctx, name, contentType)
	if err != nil {
		return UploadSession{}, fmt.Errorf("start upload %q: %w", name, err)
	}

	session := UploadSession{
		ID:          uploadID,
		Key:         name,
		Name:        name,
		ContentType: contentType,
		TotalSize:   totalSize,
		ChunkSize:   s.strategist.ChunkSize(),
		PartCount:   len(PartRanges(totalSize, s.strategist.ChunkSize())),
		State:       SessionOpen,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		// Session record is required for completion and reaping; release
		// the store session rather than leaving it untracked.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
		defer cancel()
		if abortErr := s.store.AbortMultipart(cleanupCtx, name, uploadID); abortErr != nil {
			slog.Warn("abort untracked session", "upload_id", uploadID, "err", abortErr)
		}
		return UploadSession{}, fmt.Errorf("start upload %q: save session: %w", name, err)
	}

	return session, nil
}

// PartCapability issues a fresh time-bounded write capability for one part
// of an open session. Expired capabilities are replaced by calling this
// again; the session itself is not failed.
func (s *ArchiveService) PartCapability(ctx context.Context, uploadID string, partNumber int) (Capability, error) {
	if err := ctx.Err(); err != nil {
		return Capability{}, fmt.Errorf("part capability: %w", err)
	}

	session, err := s.sessions.Get(ctx, uploadID)
	if err != nil {
		return Capability{}, fmt.Errorf("part capability %s: %w", uploadID, err)
	}
	if session.State.Terminal() {
		return Capability{}, fmt.Errorf("part capability %s: %w: session is %s", uploadID, ErrSessionExpired, session.State)
	}
	if partNumber < 1 || partNumber > session.PartCount {
		return Capability{}, fmt.Errorf("part capability %s: %w: part %d outside 1..%d", uploadID, ErrInvalidInput, partNumber, session.PartCount)
	}

	cap, err := s.store.PresignPart(ctx, session.Key, uploadID, partNumber, s.cfg.CapabilityTTL)
	if err != nil {
		return Capability{}, fmt.Errorf("part capability %s: %w", uploadID, err)
	}

	if session.State == SessionOpen {
		if err := session.Transition(SessionPartsInFlight); err == nil {
			if saveErr := s.sessions.Save(ctx, session); saveErr != nil {
				slog.Warn("persist session state", "upload_id", uploadID, "err", saveErr)
			}
		}
	}

	return cap, nil
}

// Complete reconciles a finished upload: it validates the receipt set,
// commits the store session, and registers one catalog record with status
// archived. A failed precondition aborts the session.
func (s *ArchiveService) Complete(ctx context.Context, uploadID string, parts []PartRecord, meta ArchiveMeta) (ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return ArchiveRecord{}, fmt.Errorf("complete upload: %w", err)
	}

	session, err := s.sessions.Get(ctx, uploadID)
	if err != nil {
		return ArchiveRecord{}, fmt.Errorf("complete upload %s: %w", uploadID, err)
	}

	rec, err := s.reconciler.Complete(ctx, &session, parts, meta)

	// Terminal either way: committed sessions are durable in the catalog,
	// aborted ones have released their store resources.
	if session.State.Terminal() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
		defer cancel()
		if delErr := s.sessions.Delete(cleanupCtx, uploadID); delErr != nil {
			slog.Warn("delete terminal session", "upload_id", uploadID, "err", delErr)
		}
	}

	if err != nil {
		return ArchiveRecord{}, err
	}
	return rec, nil
}

// Abort releases all store-side resources for a non-committed session. It is
// idempotent: aborting an unknown, already-aborted, or already-committed
// session is a no-op.
func (s *ArchiveService) Abort(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("abort upload: %w", err)
	}

	session, err := s.sessions.Get(ctx, uploadID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("abort upload %s: %w", uploadID, err)
	}
	if session.State == SessionCommitted {
		return nil
	}

	if err := s.store.AbortMultipart(ctx, session.Key, uploadID); err != nil {
		return fmt.Errorf("abort upload %s: %w", uploadID, err)
	}
	if err := s.sessions.Delete(ctx, uploadID); err != nil {
		return fmt.Errorf("abort upload %s: delete session: %w", uploadID, err)
	}
	return nil
}

// ArchiveSingle stores a small payload in one store call and registers the
// catalog record. No partial state is exposed: on registration failure the
// stored object is removed again.
func (s *ArchiveService) ArchiveSingle(ctx context.Context, name, contentType string, content io.Reader, size int64, meta ArchiveMeta) (ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return ArchiveRecord{}, fmt.Errorf("archive: %w", err)
	}
	if !IsValidKey(name) {
		return ArchiveRecord{}, fmt.Errorf("archive %q: %w: invalid name", name, ErrInvalidInput)
	}
	if size == 0 {
		return ArchiveRecord{}, fmt.Errorf("archive %q: %w", name, ErrEmptyArchive)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !meta.Policy.IsValid() {
		meta.Policy = PolicyStandard
	}

	fingerprint, err := s.store.Put(ctx, name, contentType, content, size)
	if err != nil {
		return ArchiveRecord{}, fmt.Errorf("archive %q: store put: %w", name, err)
	}

	rec := ArchiveRecord{
		FileID:      uuid.New(),
		StorageKey:  name,
		Filename:    name,
		Size:        size,
		Tags:        meta.Tags,
		ContentType: contentType,
		Policy:      meta.Policy,
		Status:      StatusArchived,
		Fingerprint: fingerprint,
		ArchivedAt:  time.Now().UTC(),
	}

	registered, err := s.reconciler.Register(ctx, rec)
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
		defer cancel()
		if delErr := s.store.Delete(cleanupCtx, name); delErr != nil {
			return ArchiveRecord{}, fmt.Errorf("archive %q: catalog registration failed (%w) and cleanup failed: %w", name, err, delErr)
		}
		return ArchiveRecord{}, fmt.Errorf("archive %q: catalog registration: %w", name, err)
	}

	return registered, nil
}

// GetArchive returns the catalog record for fileID along with a presigned
// download URL.
func (s *ArchiveService) GetArchive(ctx context.Context, fileID uuid.UUID) (ArchiveRecord, string, error) {
	if err := ctx.Err(); err != nil {
		return ArchiveRecord{}, "", fmt.Errorf("get archive: %w", err)
	}

	rec, err := s.catalog.Get(ctx, fileID)
	if err != nil {
		return ArchiveRecord{}, "", fmt.Errorf("get archive %s: %w", fileID, err)
	}

	url, err := s.store.PresignGet(ctx, rec.StorageKey, s.cfg.DownloadTTL)
	if err != nil {
		return ArchiveRecord{}, "", fmt.Errorf("get archive %s: presign download: %w", fileID, err)
	}
	return rec, url, nil
}

// ReapExpired aborts sessions older than the configured maximum age that
// never reached completion. It is the garbage-collection safety net behind
// client-side aborts.
func (s *ArchiveService) ReapExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("reap sessions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.SessionMaxAge)
	expired, err := s.sessions.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap sessions: %w", err)
	}

	reaped := 0
	for _, session := range expired {
		if err := s.store.AbortMultipart(ctx, session.Key, session.ID); err != nil {
			return reaped, fmt.Errorf("reap session %s: %w", session.ID, err)
		}
		if err := s.sessions.Delete(ctx, session.ID); err != nil {
			return reaped, fmt.Errorf("reap session %s: delete: %w", session.ID, err)
		}
		slog.Info("reaped expired upload session", "upload_id", session.ID, "key", session.Key, "created_at", session.CreatedAt)
		reaped++
	}
	return reaped, nil
}
