package arkive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// PartTransport performs the bytes-to-store transfer for one part. A call
// writes exactly length bytes against the capability and reports back the
// store's receipt token. Calls are independently retryable; the upload flow
// issues a fresh capability per attempt.
type PartTransport interface {
	TransferPart(ctx context.Context, cap Capability, body io.Reader, length int64) (string, error)
}

// HTTPPartTransport PUTs part bodies to capability URLs and reads the
// receipt from the ETag response header.
type HTTPPartTransport struct {
	client *resty.Client
}

// NewHTTPPartTransport returns a transport over the given resty client, or a
// default client with a 5 minute per-part timeout when nil.
func NewHTTPPartTransport(client *resty.Client) *HTTPPartTransport {
	if client == nil {
		client = resty.New().SetTimeout(5 * time.Minute)
	}
	return &HTTPPartTransport{client: client}
}

// TransferPart uploads one byte range. Network failures and non-success
// responses surface as *PartTransferError carrying the part number for
// diagnostics.
func (t *HTTPPartTransport) TransferPart(ctx context.Context, cap Capability, body io.Reader, length int64) (string, error) {
	if cap.Expired(time.Now()) {
		return "", &PartTransferError{PartNumber: cap.PartNumber, Cause: ErrSessionExpired}
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetContentLength(true).
		SetHeader("Content-Length", fmt.Sprintf("%d", length)).
		SetBody(io.LimitReader(body, length)).
		Put(cap.URL)
	if err != nil {
		return "", &PartTransferError{PartNumber: cap.PartNumber, Cause: err}
	}

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusNoContent {
		if resp.StatusCode() == http.StatusForbidden || resp.StatusCode() == http.StatusUnauthorized {
			return "", &PartTransferError{PartNumber: cap.PartNumber, Cause: fmt.Errorf("%w: status %d", ErrSessionExpired, resp.StatusCode())}
		}
		return "", &PartTransferError{PartNumber: cap.PartNumber, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	receipt := resp.Header().Get("ETag")
	if receipt == "" {
		return "", &PartTransferError{PartNumber: cap.PartNumber, Cause: fmt.Errorf("response missing receipt token")}
	}
	return trimQuotes(receipt), nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// PartSet collects part receipts keyed by part number. Parts may finish out
// of order or concurrently; each slot is written at most once, so a single
// mutex around the map is the only synchronization needed.
type PartSet struct {
	mu    sync.Mutex
	parts map[int]PartRecord
}

// NewPartSet returns an empty receipt collection.
func NewPartSet() *PartSet {
	return &PartSet{parts: make(map[int]PartRecord)}
}

// Add records a completed part. Recording the same part number twice is a
// programming error in the flow and is rejected.
func (s *PartSet) Add(rec PartRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parts[rec.Number]; ok {
		return fmt.Errorf("part set: %w: duplicate part %d", ErrInvalidInput, rec.Number)
	}
	s.parts[rec.Number] = rec
	return nil
}

// Len returns the number of recorded parts.
func (s *PartSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parts)
}

// Records returns all recorded parts sorted by part number.
func (s *PartSet) Records() []PartRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PartRecord, 0, len(s.parts))
	for _, rec := range s.parts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
