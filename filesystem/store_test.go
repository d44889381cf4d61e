package filesystem_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivehq/arkive"
	"github.com/arkivehq/arkive/filesystem"
)

func newStore(t *testing.T) *filesystem.Store {
	t.Helper()
	root, err := os.OpenRoot(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	signer, err := arkive.NewCapabilitySigner("test-secret")
	require.NoError(t, err)

	return filesystem.NewStore(root, signer, "http://localhost:5709/")
}

func sha256hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func readAll(t *testing.T, rc io.ReadSeekCloser) []byte {
	t.Helper()
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func TestStore_Put(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	t.Run("stores object and returns its fingerprint", func(t *testing.T) {
		content := []byte("hello archive")
		etag, err := store.Put(ctx, "greeting.txt", "text/plain", bytes.NewReader(content), int64(len(content)))
		require.NoError(t, err)
		assert.Equal(t, sha256hex(content), etag)

		rc, err := store.Open(ctx, "greeting.txt")
		require.NoError(t, err)
		assert.Equal(t, content, readAll(t, rc))
	})

	t.Run("creates intermediate directories", func(t *testing.T) {
		_, err := store.Put(ctx, "reports/2026/q3.zip", "application/zip", strings.NewReader("zzz"), 3)
		require.NoError(t, err)

		rc, err := store.Open(ctx, "reports/2026/q3.zip")
		require.NoError(t, err)
		assert.Equal(t, []byte("zzz"), readAll(t, rc))
	})

	t.Run("size mismatch removes the object again", func(t *testing.T) {
		_, err := store.Put(ctx, "short.bin", "application/octet-stream", strings.NewReader("abc"), 10)
		require.ErrorIs(t, err, arkive.ErrInvalidInput)

		_, err = store.Open(ctx, "short.bin")
		assert.ErrorIs(t, err, arkive.ErrNotFound)
	})

	t.Run("rejects invalid keys", func(t *testing.T) {
		_, err := store.Put(ctx, "../escape", "text/plain", strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, arkive.ErrInvalidInput)
	})
}

func TestStore_Multipart(t *testing.T) {
	ctx := context.Background()

	part1 := bytes.Repeat([]byte("a"), 64)
	part2 := bytes.Repeat([]byte("b"), 64)
	part3 := bytes.Repeat([]byte("c"), 16)
	whole := append(append(append([]byte{}, part1...), part2...), part3...)

	stage := func(t *testing.T, store *filesystem.Store) (string, []arkive.PartRecord) {
		t.Helper()
		uploadID, err := store.CreateMultipart(ctx, "backup.zip", "application/zip")
		require.NoError(t, err)

		// Out-of-order arrival is fine; each part stages independently.
		r3, err := store.WritePart(ctx, uploadID, 3, bytes.NewReader(part3))
		require.NoError(t, err)
		r1, err := store.WritePart(ctx, uploadID, 1, bytes.NewReader(part1))
		require.NoError(t, err)
		r2, err := store.WritePart(ctx, uploadID, 2, bytes.NewReader(part2))
		require.NoError(t, err)

		return uploadID, []arkive.PartRecord{
			{Number: 1, Receipt: r1},
			{Number: 2, Receipt: r2},
			{Number: 3, Receipt: r3},
		}
	}

	t.Run("commit concatenates parts in order", func(t *testing.T) {
		store := newStore(t)
		uploadID, parts := stage(t, store)

		fingerprint, err := store.CompleteMultipart(ctx, "backup.zip", uploadID, parts)
		require.NoError(t, err)
		assert.Equal(t, sha256hex(whole), fingerprint)

		rc, err := store.Open(ctx, "backup.zip")
		require.NoError(t, err)
		assert.Equal(t, whole, readAll(t, rc))

		// Staging is gone after commit.
		_, err = store.WritePart(ctx, uploadID, 1, bytes.NewReader(part1))
		assert.ErrorIs(t, err, arkive.ErrNotFound)
	})

	t.Run("part receipts are content hashes", func(t *testing.T) {
		store := newStore(t)
		_, parts := stage(t, store)
		assert.Equal(t, sha256hex(part1), parts[0].Receipt)
		assert.Equal(t, sha256hex(part2), parts[1].Receipt)
	})

	t.Run("mismatched receipt refuses the commit", func(t *testing.T) {
		store := newStore(t)
		uploadID, parts := stage(t, store)
		parts[1].Receipt = sha256hex([]byte("tampered"))

		_, err := store.CompleteMultipart(ctx, "backup.zip", uploadID, parts)
		require.ErrorIs(t, err, arkive.ErrInvalidInput)

		_, err = store.Open(ctx, "backup.zip")
		assert.ErrorIs(t, err, arkive.ErrNotFound)
	})

	t.Run("missing staged part refuses the commit", func(t *testing.T) {
		store := newStore(t)
		uploadID, parts := stage(t, store)
		parts = append(parts, arkive.PartRecord{Number: 4, Receipt: sha256hex(nil)})

		_, err := store.CompleteMultipart(ctx, "backup.zip", uploadID, parts)
		assert.ErrorIs(t, err, arkive.ErrNotFound)
	})

	t.Run("write part against unknown session", func(t *testing.T) {
		store := newStore(t)
		_, err := store.WritePart(ctx, "no-such-upload", 1, bytes.NewReader(part1))
		assert.ErrorIs(t, err, arkive.ErrNotFound)
	})

	t.Run("abort discards staging and is idempotent", func(t *testing.T) {
		store := newStore(t)
		uploadID, _ := stage(t, store)

		require.NoError(t, store.AbortMultipart(ctx, "backup.zip", uploadID))
		_, err := store.WritePart(ctx, uploadID, 1, bytes.NewReader(part1))
		assert.ErrorIs(t, err, arkive.ErrNotFound)

		assert.NoError(t, store.AbortMultipart(ctx, "backup.zip", uploadID))
		assert.NoError(t, store.AbortMultipart(ctx, "backup.zip", "never-existed"))
	})
}

func TestStore_Presign(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	signer, err := arkive.NewCapabilitySigner("test-secret")
	require.NoError(t, err)

	t.Run("part capability verifies against the signer", func(t *testing.T) {
		cap, err := store.PresignPart(ctx, "backup.zip", "upload-1", 2, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, cap.PartNumber)
		assert.False(t, cap.Expired(time.Now()))

		u, err := url.Parse(cap.URL)
		require.NoError(t, err)
		assert.Equal(t, "/upload-part", u.Path)

		scope, signature, err := arkive.ScopeFromQuery("PUT", u.Query())
		require.NoError(t, err)
		assert.Equal(t, "backup.zip", scope.Key)
		assert.Equal(t, "upload-1", scope.UploadID)
		assert.Equal(t, 2, scope.PartNumber)
		assert.NoError(t, signer.Verify(scope, signature, time.Now()))
	})

	t.Run("download url verifies against the signer", func(t *testing.T) {
		signed, err := store.PresignGet(ctx, "backup.zip", time.Hour)
		require.NoError(t, err)

		u, err := url.Parse(signed)
		require.NoError(t, err)
		assert.Equal(t, "/download", u.Path)

		scope, signature, err := arkive.ScopeFromQuery("GET", u.Query())
		require.NoError(t, err)
		assert.NoError(t, signer.Verify(scope, signature, time.Now()))
	})

	t.Run("foreign secret rejects the capability", func(t *testing.T) {
		cap, err := store.PresignPart(ctx, "backup.zip", "upload-1", 1, 15*time.Minute)
		require.NoError(t, err)

		other, err := arkive.NewCapabilitySigner("other-secret")
		require.NoError(t, err)

		u, err := url.Parse(cap.URL)
		require.NoError(t, err)
		scope, signature, err := arkive.ScopeFromQuery("PUT", u.Query())
		require.NoError(t, err)
		assert.ErrorIs(t, other.Verify(scope, signature, time.Now()), arkive.ErrInvalidInput)
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.Put(ctx, "doomed.txt", "text/plain", strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "doomed.txt"))
	_, err = store.Open(ctx, "doomed.txt")
	assert.ErrorIs(t, err, arkive.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "doomed.txt"), arkive.ErrNotFound)
}
