package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivehq/arkive"
	"github.com/arkivehq/arkive/httpapi"
)

// stubService answers each endpoint from canned fields, recording the inputs
// the handler forwarded.
type stubService struct {
	session arkive.UploadSession
	cap     arkive.Capability
	record  arkive.ArchiveRecord
	url     string
	err     error

	startName     string
	startSize     int64
	capUploadID   string
	capPart       int
	completeParts []arkive.PartRecord
	completeMeta  arkive.ArchiveMeta
	abortedID     string
	singleName    string
	singleSize    int64
	singleMeta    arkive.ArchiveMeta
	singleBody    []byte
	getID         uuid.UUID
}

func (s *stubService) StartUpload(ctx context.Context, name, contentType string, totalSize int64) (arkive.UploadSession, error) {
	s.startName, s.startSize = name, totalSize
	return s.session, s.err
}

func (s *stubService) PartCapability(ctx context.Context, uploadID string, partNumber int) (arkive.Capability, error) {
	s.capUploadID, s.capPart = uploadID, partNumber
	return s.cap, s.err
}

func (s *stubService) Complete(ctx context.Context, uploadID string, parts []arkive.PartRecord, meta arkive.ArchiveMeta) (arkive.ArchiveRecord, error) {
	s.completeParts, s.completeMeta = parts, meta
	return s.record, s.err
}

func (s *stubService) Abort(ctx context.Context, uploadID string) error {
	s.abortedID = uploadID
	return s.err
}

func (s *stubService) ArchiveSingle(ctx context.Context, name, contentType string, content io.Reader, size int64, meta arkive.ArchiveMeta) (arkive.ArchiveRecord, error) {
	body, err := io.ReadAll(content)
	if err != nil {
		return arkive.ArchiveRecord{}, err
	}
	s.singleName, s.singleSize, s.singleMeta, s.singleBody = name, size, meta, body
	return s.record, s.err
}

func (s *stubService) GetArchive(ctx context.Context, fileID uuid.UUID) (arkive.ArchiveRecord, string, error) {
	s.getID = fileID
	return s.record, s.url, s.err
}

// stubPartStore stores parts and objects in memory.
type stubPartStore struct {
	parts   map[string][]byte // uploadID/partNumber -> body
	objects map[string][]byte
	err     error
}

func newStubPartStore() *stubPartStore {
	return &stubPartStore{parts: make(map[string][]byte), objects: make(map[string][]byte)}
}

func (s *stubPartStore) WritePart(ctx context.Context, uploadID string, partNumber int, content io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	body, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	s.parts[fmt.Sprintf("%s/%d", uploadID, partNumber)] = body
	return fmt.Sprintf("receipt-%d", partNumber), nil
}

func (s *stubPartStore) Open(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	body, ok := s.objects[key]
	if !ok {
		return nil, arkive.ErrNotFound
	}
	return nopSeekCloser{bytes.NewReader(body)}, nil
}

type nopSeekCloser struct{ *bytes.Reader }

func (nopSeekCloser) Close() error { return nil }

func newTestHandler(t *testing.T, service httpapi.Service, store httpapi.PartStore) (http.Handler, *arkive.CapabilitySigner) {
	t.Helper()
	signer, err := arkive.NewCapabilitySigner("test-secret")
	require.NoError(t, err)
	h := httpapi.NewHandler(&httpapi.HandlerConfig{
		Signer:    signer,
		PartStore: store,
	}, service)
	return h.Router(), signer
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHandler_StartUpload(t *testing.T) {
	service := &stubService{session: arkive.UploadSession{
		ID:        "upload-1",
		Key:       "backup.zip",
		TotalSize: 12 << 20,
		ChunkSize: 5 << 20,
		PartCount: 3,
		State:     arkive.SessionOpen,
	}}
	router, _ := newTestHandler(t, service, nil)

	rec := postJSON(t, router, "/start-upload", httpapi.StartUploadRequest{
		Name:        "backup.zip",
		ContentType: "application/zip",
		TotalSize:   12 << 20,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	session := decodeJSON[arkive.UploadSession](t, rec)
	assert.Equal(t, "upload-1", session.ID)
	assert.Equal(t, 3, session.PartCount)
	assert.Equal(t, "backup.zip", service.startName)
	assert.Equal(t, int64(12<<20), service.startSize)
}

func TestHandler_StartUpload_Malformed(t *testing.T) {
	router, _ := newTestHandler(t, &stubService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/start-upload", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeJSON[httpapi.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_input", resp.Error)
}

func TestHandler_PartURL(t *testing.T) {
	service := &stubService{cap: arkive.Capability{
		URL:        "http://origin/upload-part?partNumber=2",
		PartNumber: 2,
		ExpiresAt:  time.Now().Add(15 * time.Minute).UTC(),
	}}
	router, _ := newTestHandler(t, service, nil)

	rec := postJSON(t, router, "/get-upload-part-url", httpapi.PartURLRequest{UploadID: "upload-1", PartNumber: 2})
	require.Equal(t, http.StatusOK, rec.Code)

	cap := decodeJSON[arkive.Capability](t, rec)
	assert.Equal(t, 2, cap.PartNumber)
	assert.Equal(t, "upload-1", service.capUploadID)
	assert.Equal(t, 2, service.capPart)
}

func TestHandler_PartURL_ExpiredSession(t *testing.T) {
	service := &stubService{err: arkive.ErrSessionExpired}
	router, _ := newTestHandler(t, service, nil)

	rec := postJSON(t, router, "/get-upload-part-url", httpapi.PartURLRequest{UploadID: "upload-1", PartNumber: 1})
	require.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeJSON[httpapi.ErrorResponse](t, rec)
	assert.Equal(t, "session_expired", resp.Error)
}

func TestHandler_Complete(t *testing.T) {
	fileID := uuid.New()
	service := &stubService{record: arkive.ArchiveRecord{
		FileID: fileID,
		Status: arkive.StatusArchived,
		Policy: arkive.PolicyLegalHold,
	}}
	router, _ := newTestHandler(t, service, nil)

	rec := postJSON(t, router, "/complete-upload", httpapi.CompleteUploadRequest{
		UploadID: "upload-1",
		Parts: []arkive.PartRecord{
			{Number: 1, Receipt: "r1"},
			{Number: 2, Receipt: "r2"},
		},
		Tags:   []string{"backups"},
		Policy: "legal-hold",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeJSON[arkive.ArchiveRecord](t, rec)
	assert.Equal(t, fileID, got.FileID)
	assert.Len(t, service.completeParts, 2)
	assert.Equal(t, arkive.PolicyLegalHold, service.completeMeta.Policy)
	assert.Equal(t, []string{"backups"}, service.completeMeta.Tags)
}

func TestHandler_Complete_IncompleteParts(t *testing.T) {
	service := &stubService{err: &arkive.ReconciliationError{MissingParts: []int{2}}}
	router, _ := newTestHandler(t, service, nil)

	rec := postJSON(t, router, "/complete-upload", httpapi.CompleteUploadRequest{
		UploadID: "upload-1",
		Parts:    []arkive.PartRecord{{Number: 1, Receipt: "r1"}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeJSON[httpapi.ErrorResponse](t, rec)
	assert.Equal(t, "incomplete_part_set", resp.Error)
}

func TestHandler_Complete_BadPolicy(t *testing.T) {
	router, _ := newTestHandler(t, &stubService{}, nil)

	rec := postJSON(t, router, "/complete-upload", httpapi.CompleteUploadRequest{
		UploadID: "upload-1",
		Policy:   "forever",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeJSON[httpapi.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_policy", resp.Error)
}

func TestHandler_Abort(t *testing.T) {
	service := &stubService{}
	router, _ := newTestHandler(t, service, nil)

	rec := postJSON(t, router, "/abort-upload", httpapi.AbortUploadRequest{UploadID: "upload-1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "upload-1", service.abortedID)
}

func TestHandler_Archive(t *testing.T) {
	fileID := uuid.New()
	service := &stubService{record: arkive.ArchiveRecord{FileID: fileID, Status: arkive.StatusArchived}}
	router, _ := newTestHandler(t, service, nil)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("contents"))
	require.NoError(t, err)
	require.NoError(t, form.WriteField("tags", "work, notes"))
	require.NoError(t, form.WriteField("policy", "temporary"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/archive", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	got := decodeJSON[arkive.ArchiveRecord](t, rec)
	assert.Equal(t, fileID, got.FileID)

	assert.Equal(t, "notes.txt", service.singleName)
	assert.Equal(t, []byte("contents"), service.singleBody)
	assert.Equal(t, []string{"work", "notes"}, service.singleMeta.Tags)
	assert.Equal(t, arkive.PolicyTemporary, service.singleMeta.Policy)
}

func TestHandler_Archive_MissingFile(t *testing.T) {
	router, _ := newTestHandler(t, &stubService{}, nil)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("tags", "work"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/archive", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetArchive(t *testing.T) {
	fileID := uuid.New()
	service := &stubService{
		record: arkive.ArchiveRecord{FileID: fileID, Filename: "backup.zip", Status: arkive.StatusArchived},
		url:    "http://origin/download?key=backup.zip",
	}
	router, _ := newTestHandler(t, service, nil)

	req := httptest.NewRequest(http.MethodGet, "/archive/"+fileID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[httpapi.GetArchiveResponse](t, rec)
	assert.Equal(t, fileID, got.FileID)
	assert.Equal(t, "http://origin/download?key=backup.zip", got.DownloadURL)
	assert.Equal(t, fileID, service.getID)
}

func TestHandler_GetArchive_Errors(t *testing.T) {
	t.Run("bad id", func(t *testing.T) {
		router, _ := newTestHandler(t, &stubService{}, nil)
		req := httptest.NewRequest(http.MethodGet, "/archive/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		router, _ := newTestHandler(t, &stubService{err: arkive.ErrNotFound}, nil)
		req := httptest.NewRequest(http.MethodGet, "/archive/"+uuid.NewString(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
		resp := decodeJSON[httpapi.ErrorResponse](t, rec)
		assert.Equal(t, "not_found", resp.Error)
	})
}

func TestHandler_UploadPart(t *testing.T) {
	store := newStubPartStore()
	router, signer := newTestHandler(t, &stubService{}, store)

	signedURL := func(t *testing.T, scope arkive.CapabilityScope) string {
		t.Helper()
		u, err := signer.SignURL("/upload-part", scope)
		require.NoError(t, err)
		return u
	}

	scope := arkive.CapabilityScope{
		Method:     http.MethodPut,
		Key:        "backup.zip",
		UploadID:   "upload-1",
		PartNumber: 2,
		ExpiresAt:  time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second),
	}

	t.Run("verified capability writes the part", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, signedURL(t, scope), strings.NewReader("part bytes"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `"receipt-2"`, rec.Header().Get("ETag"))
		assert.Equal(t, []byte("part bytes"), store.parts["upload-1/2"])
	})

	t.Run("tampered part number is rejected", func(t *testing.T) {
		u, err := url.Parse(signedURL(t, scope))
		require.NoError(t, err)
		q := u.Query()
		q.Set("partNumber", "3")
		u.RawQuery = q.Encode()

		req := httptest.NewRequest(http.MethodPut, u.String(), strings.NewReader("x"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("expired capability is refused", func(t *testing.T) {
		stale := scope
		stale.ExpiresAt = time.Now().Add(-time.Minute).UTC().Truncate(time.Second)

		req := httptest.NewRequest(http.MethodPut, signedURL(t, stale), strings.NewReader("x"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusForbidden, rec.Code)
		resp := decodeJSON[httpapi.ErrorResponse](t, rec)
		assert.Equal(t, "session_expired", resp.Error)
	})

	t.Run("unknown session maps to not found", func(t *testing.T) {
		store.err = arkive.ErrNotFound
		defer func() { store.err = nil }()

		req := httptest.NewRequest(http.MethodPut, signedURL(t, scope), strings.NewReader("x"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_Download(t *testing.T) {
	store := newStubPartStore()
	store.objects["backup.zip"] = []byte("archive bytes")
	router, signer := newTestHandler(t, &stubService{}, store)

	scope := arkive.CapabilityScope{
		Method:    http.MethodGet,
		Key:       "backup.zip",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	signed, err := signer.SignURL("/download", scope)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, signed, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive bytes", rec.Body.String())
}

func TestHandler_ByteEndpointsDisabledWithoutPartStore(t *testing.T) {
	router, signer := newTestHandler(t, &stubService{}, nil)

	signed, err := signer.SignURL("/download", arkive.CapabilityScope{
		Method:    http.MethodGet,
		Key:       "backup.zip",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, signed, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/upload-part", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
