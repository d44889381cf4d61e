// Package filesystem provides a local ObjectStore backend. Objects are laid
// out under a sandboxed root, writes are atomic (temp file and rename),
// fingerprints are SHA256 hex, and the multi-part protocol stages parts in a
// per-session directory that a commit concatenates in part order.
//
// Part capabilities are HMAC-signed URLs pointing back at the origin
// service's upload-part endpoint; see the httpapi package for the handler
// that verifies them.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arkivehq/arkive"
)

// sessionDir is the staging area for in-flight multi-part sessions. Leading
// dot keeps it out of the valid object key space.
const sessionDir = ".mpu"

// Store is a filesystem ObjectStore rooted at a sandboxed directory.
type Store struct {
	root    *os.Root
	signer  *arkive.CapabilitySigner
	baseURL string
}

// NewStore returns a Store over root. signer and baseURL configure presigned
// capability URLs: baseURL is the externally reachable origin of the httpapi
// router (e.g. "http://localhost:5709").
func NewStore(root *os.Root, signer *arkive.CapabilitySigner, baseURL string) *Store {
	return &Store{root: root, signer: signer, baseURL: strings.TrimRight(baseURL, "/")}
}

// Put atomically writes the whole object and returns its SHA256 fingerprint.
func (s *Store) Put(ctx context.Context, key, contentType string, content io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !arkive.IsValidKey(key) {
		return "", fmt.Errorf("put %q: %w: invalid key", key, arkive.ErrInvalidInput)
	}

	written, etag, err := s.writeAtomic(ctx, key, content)
	if err != nil {
		return "", fmt.Errorf("put %q: %w", key, err)
	}
	if size > 0 && written != size {
		// Object is already durable; size mismatch means the caller lied
		// about size, remove it again.
		_ = s.root.Remove(key)
		return "", fmt.Errorf("put %q: %w: wrote %d bytes, expected %d", key, arkive.ErrInvalidInput, written, size)
	}
	return etag, nil
}

// CreateMultipart allocates an upload ID and its staging directory.
func (s *Store) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !arkive.IsValidKey(key) {
		return "", fmt.Errorf("create multipart %q: %w: invalid key", key, arkive.ErrInvalidInput)
	}

	uploadID := uuid.New().String()
	if err := s.root.MkdirAll(filepath.Join(sessionDir, uploadID), 0o755); err != nil {
		return "", fmt.Errorf("create multipart %q: %w", key, err)
	}
	return uploadID, nil
}

// WritePart stages one part atomically and returns its SHA256 receipt. Parts
// may arrive out of order or concurrently; each part number targets its own
// file. Called by the httpapi upload-part handler after capability
// verification.
func (s *Store) WritePart(ctx context.Context, uploadID string, partNumber int, content io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if partNumber < 1 {
		return "", fmt.Errorf("write part: %w: part number %d", arkive.ErrInvalidInput, partNumber)
	}

	dir := filepath.Join(sessionDir, uploadID)
	if _, err := s.root.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("write part %d: %w", partNumber, arkive.ErrNotFound)
		}
		return "", fmt.Errorf("write part %d: %w", partNumber, err)
	}

	_, etag, err := s.writeAtomic(ctx, partPath(uploadID, partNumber), content)
	if err != nil {
		return "", fmt.Errorf("write part %d: %w", partNumber, err)
	}
	return etag, nil
}

// PresignPart issues an HMAC-signed single-part write URL against the origin
// service.
func (s *Store) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (arkive.Capability, error) {
	if err := ctx.Err(); err != nil {
		return arkive.Capability{}, err
	}
	if s.signer == nil {
		return arkive.Capability{}, fmt.Errorf("presign part: %w: store has no capability signer", arkive.ErrInvalidInput)
	}

	expires := time.Now().UTC().Add(ttl)
	url, err := s.signer.SignURL(s.baseURL+"/upload-part", arkive.CapabilityScope{
		Method:     "PUT",
		Key:        key,
		UploadID:   uploadID,
		PartNumber: partNumber,
		ExpiresAt:  expires,
	})
	if err != nil {
		return arkive.Capability{}, fmt.Errorf("presign part %d: %w", partNumber, err)
	}
	return arkive.Capability{URL: url, PartNumber: partNumber, ExpiresAt: expires}, nil
}

// CompleteMultipart verifies every receipt against the staged part, then
// concatenates parts in part order into the final object. The staging
// directory is removed on success. Returns the whole-object SHA256
// fingerprint.
func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []arkive.PartRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp := tmpName()
	dst, err := s.root.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("complete multipart %q: %w", key, err)
	}

	success := false
	defer func() {
		if closeErr := dst.Close(); closeErr != nil {
			slog.Warn("close multipart assembly file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(tmp); rmErr != nil {
				slog.Warn("remove multipart assembly file", "err", rmErr)
			}
		}
	}()

	h := sha256.New()
	w := io.MultiWriter(h, dst)

	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.appendPart(uploadID, part, w); err != nil {
			return "", fmt.Errorf("complete multipart %q: %w", key, err)
		}
	}

	if err := dst.Sync(); err != nil {
		return "", fmt.Errorf("complete multipart %q: sync: %w", key, err)
	}

	if dir := filepath.Dir(key); dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("complete multipart %q: %w", key, err)
		}
	}
	if err := s.root.Rename(tmp, key); err != nil {
		return "", fmt.Errorf("complete multipart %q: %w", key, err)
	}
	success = true

	if err := s.root.RemoveAll(filepath.Join(sessionDir, uploadID)); err != nil {
		slog.Warn("remove multipart staging dir", "upload_id", uploadID, "err", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Store) appendPart(uploadID string, part arkive.PartRecord, w io.Writer) error {
	f, err := s.root.Open(partPath(uploadID, part.Number))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("part %d: %w", part.Number, arkive.ErrNotFound)
		}
		return fmt.Errorf("part %d: %w", part.Number, err)
	}
	defer func() { _ = f.Close() }()

	ph := sha256.New()
	if _, err := io.Copy(io.MultiWriter(ph, w), f); err != nil {
		return fmt.Errorf("part %d: %w", part.Number, err)
	}

	if etag := hex.EncodeToString(ph.Sum(nil)); etag != part.Receipt {
		return fmt.Errorf("part %d: %w: receipt token does not match stored part", part.Number, arkive.ErrInvalidInput)
	}
	return nil
}

// AbortMultipart removes the staging directory. Aborting an unknown or
// already-aborted upload is a no-op.
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.root.RemoveAll(filepath.Join(sessionDir, uploadID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("abort multipart %q: %w", uploadID, err)
	}
	return nil
}

// PresignGet issues an HMAC-signed download URL against the origin service.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.signer == nil {
		return "", fmt.Errorf("presign get: %w: store has no capability signer", arkive.ErrInvalidInput)
	}

	url, err := s.signer.SignURL(s.baseURL+"/download", arkive.CapabilityScope{
		Method:    "GET",
		Key:       key,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("presign get %q: %w", key, err)
	}
	return url, nil
}

// Open returns a reader over a committed object. Used by the httpapi
// download handler.
func (s *Store) Open(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.root.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, arkive.ErrNotFound
		}
		return nil, fmt.Errorf("open %q: %w", key, err)
	}
	return f, nil
}

// Delete removes a committed object.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.root.Remove(key); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return arkive.ErrNotFound
		}
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// writeAtomic copies content to a temp file and renames it into place,
// returning bytes written and the SHA256 hex digest.
func (s *Store) writeAtomic(ctx context.Context, path string, content io.Reader) (int64, string, error) {
	tmp := tmpName()
	f, err := s.root.Create(tmp)
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("close temp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(tmp); rmErr != nil {
				slog.Warn("remove temp file", "err", rmErr)
			}
		}
	}()

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(h, f), &ctxReader{ctx: ctx, r: content})
	if err != nil {
		return 0, "", fmt.Errorf("copy content: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, "", fmt.Errorf("sync: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return 0, "", fmt.Errorf("create intermediate directories: %w", err)
		}
	}
	if err := s.root.Rename(tmp, path); err != nil {
		return 0, "", fmt.Errorf("rename into place: %w", err)
	}
	success = true

	return written, hex.EncodeToString(h.Sum(nil)), nil
}

func partPath(uploadID string, partNumber int) string {
	return filepath.Join(sessionDir, uploadID, fmt.Sprintf("%05d", partNumber))
}

func tmpName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
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
