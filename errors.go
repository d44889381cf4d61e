package arkive

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record, session, or object is not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyArchive is returned for zero-byte payloads, which are rejected
	// before any network call.
	ErrEmptyArchive = errors.New("empty archive")
	// ErrUploadFailed is the user-visible terminal error after part retries
	// are exhausted and the session has been aborted.
	ErrUploadFailed = errors.New("upload failed")
	// ErrSessionExpired is returned when a capability or session validity
	// window has passed.
	ErrSessionExpired = errors.New("session expired")
)

// PackagingError reports an unreadable source or an empty request. It is
// fatal and never retried.
type PackagingError struct {
	Path  string
	Cause error
}

func (e *PackagingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("packaging failed: %v", e.Cause)
	}
	return fmt.Sprintf("packaging %q failed: %v", e.Path, e.Cause)
}

func (e *PackagingError) Unwrap() error { return e.Cause }

// PartTransferError reports a failed transfer of one part. The upload flow
// may retry the same part with a freshly issued capability up to the retry
// policy's limit.
type PartTransferError struct {
	PartNumber int
	Cause      error
}

func (e *PartTransferError) Error() string {
	return fmt.Sprintf("part %d transfer failed: %v", e.PartNumber, e.Cause)
}

func (e *PartTransferError) Unwrap() error { return e.Cause }

// ReconciliationError reports an incomplete or inconsistent part set at
// completion time. It is fatal for the session.
type ReconciliationError struct {
	MissingParts   []int
	DuplicateParts []int
	EmptyReceipts  []int
}

func (e *ReconciliationError) Error() string {
	var parts []string
	if len(e.MissingParts) > 0 {
		parts = append(parts, fmt.Sprintf("missing parts %v", e.MissingParts))
	}
	if len(e.DuplicateParts) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate parts %v", e.DuplicateParts))
	}
	if len(e.EmptyReceipts) > 0 {
		parts = append(parts, fmt.Sprintf("parts without receipts %v", e.EmptyReceipts))
	}
	if len(parts) == 0 {
		return "reconciliation failed"
	}
	return "reconciliation failed: " + strings.Join(parts, ", ")
}
