package arkive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// PackagedArchive is the single archive byte-stream produced by the Packager.
// The stream is spooled to a temporary file so part ranges can be re-read on
// retry without holding the payload in memory. Owned exclusively by the
// transfer flow until consumed; Close releases the spool.
type PackagedArchive struct {
	Name        string
	TotalSize   int64
	ContentType string

	spool *os.File
}

// Reader returns a reader over the whole archive stream.
func (a *PackagedArchive) Reader() io.Reader {
	return io.NewSectionReader(a.spool, 0, a.TotalSize)
}

// RangeReader returns a reader over one byte range of the archive. Ranges may
// be read concurrently and re-read on retry.
func (a *PackagedArchive) RangeReader(offset, length int64) io.Reader {
	return io.NewSectionReader(a.spool, offset, length)
}

// Close releases the spool file. The archive is unusable afterwards.
func (a *PackagedArchive) Close() error {
	name := a.spool.Name()
	if err := a.spool.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close archive spool: %w", err)
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive spool: %w", err)
	}
	return nil
}

// Packager combines the byte sources of an ArchiveRequest into one
// deterministic archive stream.
//
// A single file with no folder-relative path is passed through verbatim (no
// container wrapping; the transfer path is size-based, not format-based).
// Multiple items, or any item carrying a folder-relative path, are combined
// into one zip container preserving relative paths exactly as given. Items
// are streamed in input order with no more than copy-buffer-sized memory
// beyond what the container format mandates.
type Packager struct {
	spoolDir string
}

// NewPackager returns a Packager spooling to spoolDir, or the OS temp
// directory when spoolDir is empty.
func NewPackager(spoolDir string) *Packager {
	return &Packager{spoolDir: spoolDir}
}

// Package consumes req and produces one PackagedArchive. It fails with a
// *PackagingError if no items are supplied or any source is unreadable.
func (p *Packager) Package(ctx context.Context, req ArchiveRequest) (*PackagedArchive, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("package: %w", err)
	}

	if len(req.Items) == 0 {
		return nil, &PackagingError{Cause: fmt.Errorf("%w: no source items", ErrInvalidInput)}
	}

	spool, err := os.CreateTemp(p.spoolDir, ".arkive-pack-*")
	if err != nil {
		return nil, &PackagingError{Cause: fmt.Errorf("create spool: %w", err)}
	}

	archive, err := p.write(ctx, req, spool)
	if err != nil {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, err
	}
	return archive, nil
}

func (p *Packager) write(ctx context.Context, req ArchiveRequest, spool *os.File) (*PackagedArchive, error) {
	if isSingleRawFile(req) {
		return p.writeSingle(ctx, req.Items[0], spool)
	}
	return p.writeTree(ctx, req.Items, spool)
}

// isSingleRawFile reports whether the request resolves to the Single variant:
// exactly one item with no folder-relative path. Everything else is a Tree
// and gets a container.
func isSingleRawFile(req ArchiveRequest) bool {
	return len(req.Items) == 1 && !strings.Contains(req.Items[0].RelativePath, "/")
}

func (p *Packager) writeSingle(ctx context.Context, item SourceItem, spool *os.File) (*PackagedArchive, error) {
	src, err := item.Open()
	if err != nil {
		return nil, &PackagingError{Path: item.RelativePath, Cause: err}
	}
	defer func() { _ = src.Close() }()

	size, err := io.Copy(spool, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return nil, &PackagingError{Path: item.RelativePath, Cause: err}
	}

	name := path.Base(item.RelativePath)
	if name == "" || name == "." {
		name = defaultArchiveName()
	}

	contentType := "application/octet-stream"
	if size > 0 {
		if mt, mErr := mimetype.DetectReader(io.NewSectionReader(spool, 0, size)); mErr == nil {
			contentType = mt.String()
		}
	}

	return &PackagedArchive{
		Name:        name,
		TotalSize:   size,
		ContentType: contentType,
		spool:       spool,
	}, nil
}

func (p *Packager) writeTree(ctx context.Context, items []SourceItem, spool *os.File) (*PackagedArchive, error) {
	zw := zip.NewWriter(spool)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, &PackagingError{Path: item.RelativePath, Cause: err}
		}
		if !IsValidKey(item.RelativePath) {
			return nil, &PackagingError{Path: item.RelativePath, Cause: fmt.Errorf("%w: invalid relative path", ErrInvalidInput)}
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:   item.RelativePath,
			Method: zip.Deflate,
		})
		if err != nil {
			return nil, &PackagingError{Path: item.RelativePath, Cause: err}
		}

		src, err := item.Open()
		if err != nil {
			return nil, &PackagingError{Path: item.RelativePath, Cause: err}
		}

		_, copyErr := io.Copy(entry, &ctxReader{ctx: ctx, r: src})
		closeErr := src.Close()
		if copyErr != nil {
			return nil, &PackagingError{Path: item.RelativePath, Cause: copyErr}
		}
		if closeErr != nil {
			return nil, &PackagingError{Path: item.RelativePath, Cause: closeErr}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, &PackagingError{Cause: fmt.Errorf("finalize container: %w", err)}
	}

	size, err := spool.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, &PackagingError{Cause: fmt.Errorf("size container: %w", err)}
	}

	return &PackagedArchive{
		Name:        treeArchiveName(items),
		TotalSize:   size,
		ContentType: "application/zip",
		spool:       spool,
	}, nil
}

// treeArchiveName derives the container name from the first path segment if
// every item shares a common root, otherwise a generated default is used.
func treeArchiveName(items []SourceItem) string {
	root := firstSegment(items[0].RelativePath)
	for _, item := range items[1:] {
		if firstSegment(item.RelativePath) != root {
			root = ""
			break
		}
	}
	if root == "" || root == items[0].RelativePath {
		// No shared top-level directory.
		return defaultArchiveName() + ".zip"
	}
	return root + ".zip"
}

func firstSegment(p string) string {
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return p
}

func defaultArchiveName() string {
	return "archive-" + uuid.New().String()[:8]
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
