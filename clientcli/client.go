// Package clientcli is the remote client for an arkive server. Client speaks
// the service's session protocol, so the shared upload flow can drive a
// remote server exactly the way it drives an in-process service.
package clientcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/arkivehq/arkive"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 5 * time.Minute

// Client performs archive operations against an arkive server. It implements
// arkive.SessionService over HTTP.
type Client struct {
	config      *Config
	rest        *resty.Client
	parallelism int
	partRetry   arkive.RetryPolicy
	progress    arkive.ProgressFunc
}

// Option configures a Client.
type Option func(*Client)

// WithRestyClient sets a custom resty client.
func WithRestyClient(rest *resty.Client) Option {
	return func(c *Client) {
		c.rest = rest
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.rest.SetTimeout(timeout)
	}
}

// WithParallelism bounds concurrent part transfers.
func WithParallelism(n int) Option {
	return func(c *Client) {
		c.parallelism = n
	}
}

// WithPartRetry sets the per-part retry schedule.
func WithPartRetry(policy arkive.RetryPolicy) Option {
	return func(c *Client) {
		c.partRetry = policy
	}
}

// WithProgress sets the progress listener for uploads started via Archive.
func WithProgress(fn arkive.ProgressFunc) Option {
	return func(c *Client) {
		c.progress = fn
	}
}

// New creates a new Client with the given config and options.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}

	cfg = cfg.WithDefaults()
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")

	c := &Client{
		config:    &Config{Endpoint: endpoint, Policy: cfg.Policy},
		rest:      resty.New().SetBaseURL(endpoint).SetTimeout(DefaultTimeout),
		partRetry: arkive.DefaultRetryPolicy(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// StartUpload opens a multi-part upload session on the server.
func (c *Client) StartUpload(ctx context.Context, name, contentType string, totalSize int64) (arkive.UploadSession, error) {
	var session arkive.UploadSession
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"name":         name,
			"content_type": contentType,
			"total_size":   totalSize,
		}).
		SetResult(&session).
		Post("/start-upload")
	if err != nil {
		return arkive.UploadSession{}, fmt.Errorf("start upload: %w", err)
	}
	if err := responseError(resp); err != nil {
		return arkive.UploadSession{}, fmt.Errorf("start upload: %w", err)
	}
	return session, nil
}

// PartCapability fetches a fresh write capability for one part.
func (c *Client) PartCapability(ctx context.Context, uploadID string, partNumber int) (arkive.Capability, error) {
	var cap arkive.Capability
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"upload_id":   uploadID,
			"part_number": partNumber,
		}).
		SetResult(&cap).
		Post("/get-upload-part-url")
	if err != nil {
		return arkive.Capability{}, fmt.Errorf("part capability: %w", err)
	}
	if err := responseError(resp); err != nil {
		return arkive.Capability{}, fmt.Errorf("part capability: %w", err)
	}
	return cap, nil
}

// Complete submits the full receipt set and returns the catalog record.
func (c *Client) Complete(ctx context.Context, uploadID string, parts []arkive.PartRecord, meta arkive.ArchiveMeta) (arkive.ArchiveRecord, error) {
	var rec arkive.ArchiveRecord
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"upload_id": uploadID,
			"parts":     parts,
			"tags":      meta.Tags,
			"policy":    string(meta.Policy),
		}).
		SetResult(&rec).
		Post("/complete-upload")
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("complete upload: %w", err)
	}
	if err := responseError(resp); err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("complete upload: %w", err)
	}
	return rec, nil
}

// Abort releases the session. Aborting an unknown session succeeds.
func (c *Client) Abort(ctx context.Context, uploadID string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{"upload_id": uploadID}).
		Post("/abort-upload")
	if err != nil {
		return fmt.Errorf("abort upload: %w", err)
	}
	if err := responseError(resp); err != nil {
		return fmt.Errorf("abort upload: %w", err)
	}
	return nil
}

// ArchiveSingle stores a small payload through the single-shot endpoint.
func (c *Client) ArchiveSingle(ctx context.Context, name, contentType string, content io.Reader, size int64, meta arkive.ArchiveMeta) (arkive.ArchiveRecord, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var rec arkive.ArchiveRecord
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFileReader("file", name, content).
		SetMultipartFormData(map[string]string{
			"tags":   strings.Join(meta.Tags, ","),
			"policy": string(meta.Policy),
		}).
		SetResult(&rec).
		Post("/archive")
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("archive: %w", err)
	}
	if err := responseError(resp); err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("archive: %w", err)
	}
	return rec, nil
}

// GetArchive fetches the catalog record and a presigned download URL.
func (c *Client) GetArchive(ctx context.Context, fileID uuid.UUID) (arkive.ArchiveRecord, string, error) {
	var out struct {
		arkive.ArchiveRecord
		DownloadURL string `json:"download_url"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/archive/" + fileID.String())
	if err != nil {
		return arkive.ArchiveRecord{}, "", fmt.Errorf("get archive: %w", err)
	}
	if err := responseError(resp); err != nil {
		return arkive.ArchiveRecord{}, "", fmt.Errorf("get archive: %w", err)
	}
	return out.ArchiveRecord, out.DownloadURL, nil
}

// ArchiveOptions describe one local upload driven by Archive.
type ArchiveOptions struct {
	// LocalPath is a file or a directory. Directories upload as one archive
	// containing every regular file under them.
	LocalPath string
	Tags      []string
	Policy    string
}

// Archive packages a local file or directory and uploads it through the full
// flow: single shot for small payloads, session plus parts otherwise.
func (c *Client) Archive(ctx context.Context, opts ArchiveOptions) (arkive.ArchiveRecord, error) {
	if opts.LocalPath == "" {
		return arkive.ArchiveRecord{}, fmt.Errorf("archive: %w", ErrEmptyPath)
	}

	if opts.Policy == "" {
		opts.Policy = c.config.Policy
	}
	policy, err := arkive.ParseRetentionPolicy(opts.Policy)
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("archive: %w", err)
	}

	items, err := collectItems(opts.LocalPath)
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("archive %q: %w", opts.LocalPath, err)
	}

	uploader, err := arkive.NewUploader(c, arkive.NewHTTPPartTransport(c.rest), nil, nil, arkive.UploaderConfig{
		Parallelism: c.parallelism,
		PartRetry:   c.partRetry,
		Progress:    c.progress,
	})
	if err != nil {
		return arkive.ArchiveRecord{}, fmt.Errorf("archive %q: %w", opts.LocalPath, err)
	}

	return uploader.Upload(ctx, arkive.ArchiveRequest{
		Items:  items,
		Tags:   opts.Tags,
		Policy: policy,
	})
}

// collectItems turns a file or directory into archive source items. Directory
// walks keep paths relative to the directory's parent so the packaged tree
// carries the directory name as its root.
func collectItems(localPath string) ([]arkive.SourceItem, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat local path: %w", err)
	}

	if !info.IsDir() {
		return []arkive.SourceItem{fileItem(localPath, filepath.Base(localPath), info.Size())}, nil
	}

	root := filepath.Base(filepath.Clean(localPath))
	var items []arkive.SourceItem
	walkErr := filepath.WalkDir(localPath, func(path string, d fs.DirEntry, fileErr error) error {
		if fileErr != nil {
			return fileErr
		}
		if d.IsDir() {
			return nil
		}

		relPath, relErr := filepath.Rel(localPath, path)
		if relErr != nil {
			return fmt.Errorf("calculate relative path: %w", relErr)
		}

		fi, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		items = append(items, fileItem(path, root+"/"+filepath.ToSlash(relPath), fi.Size()))
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return items, nil
}

func fileItem(path, relativePath string, size int64) arkive.SourceItem {
	return arkive.SourceItem{
		RelativePath: relativePath,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path) //#nosec G304 -- path is user-provided upload input
		},
		SizeHint: size,
	}
}

// DetectContentType sniffs a local file's content type.
func DetectContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

// responseError maps a non-success response to the matching sentinel error
// using the server's JSON error envelope.
func responseError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(resp.Body(), &envelope)

	var sentinel error
	switch resp.StatusCode() {
	case http.StatusNotFound:
		sentinel = arkive.ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		sentinel = arkive.ErrSessionExpired
	case http.StatusBadRequest, http.StatusConflict:
		sentinel = arkive.ErrInvalidInput
	}

	msg := envelope.Message
	if msg == "" {
		msg = resp.Status()
	}
	if sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("server error: %s", msg)
}
