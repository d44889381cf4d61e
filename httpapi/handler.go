// Package httpapi exposes the archive pipeline over HTTP: session endpoints
// driven by remote upload flows, the single-shot archive endpoint, catalog
// lookups, and the signed upload-part/download endpoints that back the
// filesystem store's capabilities.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/arkivehq/arkive"
)

// Service is the pipeline surface the handler exposes.
type Service interface {
	arkive.SessionService
	GetArchive(ctx context.Context, fileID uuid.UUID) (arkive.ArchiveRecord, string, error)
}

// PartStore is the store surface behind the signed upload-part and download
// endpoints. Only the filesystem backend needs it; S3 capabilities point
// directly at the store.
type PartStore interface {
	WritePart(ctx context.Context, uploadID string, partNumber int, content io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadSeekCloser, error)
}

type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

type HandlerConfig struct {
	// Signer verifies capability query signatures on the upload-part and
	// download endpoints. Required when PartStore is set.
	Signer *arkive.CapabilitySigner
	// PartStore enables the signed byte endpoints. Nil for S3 deployments.
	PartStore PartStore
	// MaxUploadSize bounds single-shot request bodies (default: 100 MiB).
	MaxUploadSize int64
	CORS          CORSConfig
}

// Handler provides HTTP handlers for the archive pipeline.
type Handler struct {
	config  HandlerConfig
	service Service
}

// NewHandler creates a new Handler with the given configuration and service.
func NewHandler(config *HandlerConfig, service Service) *Handler {
	cfg := *config
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 100 << 20
	}
	return &Handler{
		config:  cfg,
		service: service,
	}
}

// Router returns an http.Handler with all routes configured.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Post("/start-upload", h.handleStartUpload)
	r.Post("/get-upload-part-url", h.handlePartURL)
	r.Post("/complete-upload", h.handleComplete)
	r.Post("/abort-upload", h.handleAbort)
	r.Post("/archive", h.handleArchive)
	r.Get("/archive/{fileID}", h.handleGetArchive)

	if h.config.PartStore != nil {
		r.Put("/upload-part", h.handleUploadPart)
		r.Get("/download", h.handleDownload)
	}

	return r
}

// StartUploadRequest opens a multi-part upload session.
type StartUploadRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	TotalSize   int64  `json:"total_size"`
}

func (h *Handler) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	var req StartUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Malformed request body")
		return
	}

	session, err := h.service.StartUpload(r.Context(), req.Name, req.ContentType, req.TotalSize)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, session)
}

// PartURLRequest asks for a fresh write capability for one part.
type PartURLRequest struct {
	UploadID   string `json:"upload_id"`
	PartNumber int    `json:"part_number"`
}

func (h *Handler) handlePartURL(w http.ResponseWriter, r *http.Request) {
	var req PartURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Malformed request body")
		return
	}

	cap, err := h.service.PartCapability(r.Context(), req.UploadID, req.PartNumber)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, cap)
}

// CompleteUploadRequest finishes a session by supplying all part receipts.
type CompleteUploadRequest struct {
	UploadID string              `json:"upload_id"`
	Parts    []arkive.PartRecord `json:"parts"`
	Tags     []string            `json:"tags"`
	Policy   string              `json:"policy"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Malformed request body")
		return
	}

	policy, err := arkive.ParseRetentionPolicy(req.Policy)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_policy", err.Error())
		return
	}

	rec, err := h.service.Complete(r.Context(), req.UploadID, req.Parts, arkive.ArchiveMeta{
		Tags:   req.Tags,
		Policy: policy,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, rec)
}

// AbortUploadRequest releases a session. Aborting an unknown session
// succeeds.
type AbortUploadRequest struct {
	UploadID string `json:"upload_id"`
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req AbortUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Malformed request body")
		return
	}

	if err := h.service.Abort(r.Context(), req.UploadID); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleArchive is the single-shot path: one multipart-form file plus
// optional tags and policy fields.
func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	policy, err := arkive.ParseRetentionPolicy(r.FormValue("policy"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_policy", err.Error())
		return
	}

	contentType := header.Header.Get("Content-Type")
	meta := arkive.ArchiveMeta{Tags: splitTags(r.FormValue("tags")), Policy: policy}

	rec, err := h.service.ArchiveSingle(r.Context(), header.Filename, contentType, file, header.Size, meta)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, rec)
}

// GetArchiveResponse pairs a catalog record with a time-bounded download URL.
type GetArchiveResponse struct {
	arkive.ArchiveRecord
	DownloadURL string `json:"download_url"`
}

func (h *Handler) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "Invalid file ID")
		return
	}

	rec, url, err := h.service.GetArchive(r.Context(), fileID)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, GetArchiveResponse{ArchiveRecord: rec, DownloadURL: url})
}

// handleUploadPart receives one part body on a signed capability URL and
// returns the part receipt in the ETag header, mirroring what S3 does for
// UploadPart.
func (h *Handler) handleUploadPart(w http.ResponseWriter, r *http.Request) {
	scope, signature, err := arkive.ScopeFromQuery(http.MethodPut, r.URL.Query())
	if err != nil {
		HandleError(w, err)
		return
	}
	if err := h.config.Signer.Verify(scope, signature, time.Now().UTC()); err != nil {
		HandleError(w, err)
		return
	}

	receipt, err := h.config.PartStore.WritePart(r.Context(), scope.UploadID, scope.PartNumber, r.Body)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("ETag", `"`+receipt+`"`)
	w.WriteHeader(http.StatusOK)
}

// handleDownload serves a committed object on a signed download URL.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	scope, signature, err := arkive.ScopeFromQuery(http.MethodGet, r.URL.Query())
	if err != nil {
		HandleError(w, err)
		return
	}
	if err := h.config.Signer.Verify(scope, signature, time.Now().UTC()); err != nil {
		HandleError(w, err)
		return
	}

	content, err := h.config.PartStore.Open(r.Context(), scope.Key)
	if err != nil {
		HandleError(w, err)
		return
	}
	defer func() { _ = content.Close() }()

	http.ServeContent(w, r, scope.Key, time.Time{}, content)
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
