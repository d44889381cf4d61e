package arkive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// SessionService is the origin-service surface the upload flow drives. It is
// implemented in-process by ArchiveService and remotely by clientcli.Client.
type SessionService interface {
	StartUpload(ctx context.Context, name, contentType string, totalSize int64) (UploadSession, error)
	PartCapability(ctx context.Context, uploadID string, partNumber int) (Capability, error)
	Complete(ctx context.Context, uploadID string, parts []PartRecord, meta ArchiveMeta) (ArchiveRecord, error)
	Abort(ctx context.Context, uploadID string) error
	ArchiveSingle(ctx context.Context, name, contentType string, content io.Reader, size int64, meta ArchiveMeta) (ArchiveRecord, error)
}

// UploaderConfig tunes the upload flow.
type UploaderConfig struct {
	// Parallelism bounds concurrent part transfers (default: 4).
	Parallelism int
	// PartRetry is the per-part retry schedule; each attempt gets a freshly
	// issued capability.
	PartRetry RetryPolicy
	// Progress, when set, receives one event per completed part.
	Progress ProgressFunc
}

// Uploader runs the whole upload flow: package, strategize, transfer, and
// complete. One Uploader may run many flows; each flow owns its session
// exclusively.
type Uploader struct {
	service    SessionService
	transport  PartTransport
	packager   *Packager
	strategist *Strategist
	cfg        UploaderConfig
}

// NewUploader wires an upload flow from its collaborators.
func NewUploader(service SessionService, transport PartTransport, packager *Packager, strategist *Strategist, cfg UploaderConfig) (*Uploader, error) {
	if service == nil || transport == nil {
		return nil, fmt.Errorf("new uploader: %w: nil collaborator", ErrInvalidInput)
	}
	if packager == nil {
		packager = NewPackager("")
	}
	if strategist == nil {
		var err error
		strategist, err = NewStrategist(StrategistConfig{})
		if err != nil {
			return nil, err
		}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.PartRetry.MaxAttempts == 0 {
		cfg.PartRetry = DefaultRetryPolicy()
	}
	return &Uploader{
		service:    service,
		transport:  transport,
		packager:   packager,
		strategist: strategist,
		cfg:        cfg,
	}, nil
}

// Upload archives req end to end and returns the catalog record. A failed
// upload never produces a catalog record; the session, if any, is aborted
// before the error is returned.
func (u *Uploader) Upload(ctx context.Context, req ArchiveRequest) (ArchiveRecord, error) {
	if !req.Policy.IsValid() {
		if req.Policy != "" {
			return ArchiveRecord{}, fmt.Errorf("upload: %w: unknown retention policy %q", ErrInvalidInput, req.Policy)
		}
		req.Policy = PolicyStandard
	}

	archive, err := u.packager.Package(ctx, req)
	if err != nil {
		return ArchiveRecord{}, fmt.Errorf("upload: %w", err)
	}
	defer func() {
		if closeErr := archive.Close(); closeErr != nil {
			slog.Warn("release packaged archive", "name", archive.Name, "err", closeErr)
		}
	}()

	plan, err := u.strategist.Plan(archive.TotalSize)
	if err != nil {
		return ArchiveRecord{}, fmt.Errorf("upload %q: %w", archive.Name, err)
	}

	meta := ArchiveMeta{Tags: req.Tags, Policy: req.Policy}

	if plan.Mode == TransferSingleShot {
		rec, err := u.service.ArchiveSingle(ctx, archive.Name, archive.ContentType, archive.Reader(), archive.TotalSize, meta)
		if err != nil {
			return ArchiveRecord{}, fmt.Errorf("upload %q: %w", archive.Name, err)
		}
		u.emit(Progress{PartNumber: 1, PartsCompleted: 1, PartsTotal: 1, BytesCompleted: archive.TotalSize, BytesTotal: archive.TotalSize})
		return rec, nil
	}

	return u.uploadMultipart(ctx, archive, meta)
}

func (u *Uploader) uploadMultipart(ctx context.Context, archive *PackagedArchive, meta ArchiveMeta) (ArchiveRecord, error) {
	session, err := u.service.StartUpload(ctx, archive.Name, archive.ContentType, archive.TotalSize)
	if err != nil {
		return ArchiveRecord{}, fmt.Errorf("upload %q: %w", archive.Name, err)
	}

	// The service owns the chunk-size policy for the session; re-derive the
	// part layout from it so both sides agree on the part count.
	parts := PartRanges(archive.TotalSize, session.ChunkSize)
	receipts := NewPartSet()

	var completedParts atomic.Int64
	var completedBytes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Parallelism)
	for _, part := range parts {
		g.Go(func() error {
			if err := u.transferPart(gctx, session.ID, part, archive, receipts); err != nil {
				return err
			}
			u.emit(Progress{
				PartNumber:     part.Number,
				PartsCompleted: int(completedParts.Add(1)),
				PartsTotal:     len(parts),
				BytesCompleted: completedBytes.Add(part.Length),
				BytesTotal:     archive.TotalSize,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		u.abort(session.ID)
		return ArchiveRecord{}, fmt.Errorf("upload %q: %w: %w", archive.Name, ErrUploadFailed, err)
	}

	if err := ctx.Err(); err != nil {
		u.abort(session.ID)
		return ArchiveRecord{}, fmt.Errorf("upload %q: %w", archive.Name, err)
	}

	rec, err := u.service.Complete(ctx, session.ID, receipts.Records(), meta)
	if err != nil {
		u.abort(session.ID)
		return ArchiveRecord{}, fmt.Errorf("upload %q: %w", archive.Name, err)
	}
	return rec, nil
}

// transferPart moves one byte range, retrying with a fresh capability per
// attempt up to the configured retry count.
func (u *Uploader) transferPart(ctx context.Context, uploadID string, part PartRange, archive *PackagedArchive, receipts *PartSet) error {
	err := u.cfg.PartRetry.Do(ctx, func(attempt int) error {
		cap, err := u.service.PartCapability(ctx, uploadID, part.Number)
		if err != nil {
			return &PartTransferError{PartNumber: part.Number, Cause: err}
		}

		receipt, err := u.transport.TransferPart(ctx, cap, archive.RangeReader(part.Offset, part.Length), part.Length)
		if err != nil {
			if attempt > 1 {
				slog.Debug("part transfer retry failed", "upload_id", uploadID, "part", part.Number, "attempt", attempt, "err", err)
			}
			return err
		}

		return receipts.Add(PartRecord{
			Number:  part.Number,
			Offset:  part.Offset,
			Length:  part.Length,
			Receipt: receipt,
		})
	})
	if err != nil {
		return fmt.Errorf("transfer part %d: %w", part.Number, err)
	}
	return nil
}

// abort releases the session after a failed flow. Cancellation of the flow's
// own context must not leave the session open, so cleanup runs on a
// background context.
func (u *Uploader) abort(uploadID string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := u.service.Abort(cleanupCtx, uploadID); err != nil {
		slog.Warn("abort upload session", "upload_id", uploadID, "err", err)
	}
}

func (u *Uploader) emit(p Progress) {
	if u.cfg.Progress != nil {
		u.cfg.Progress(p)
	}
}
