package arkive

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// RetentionPolicy controls how long an archived object must be kept.
type RetentionPolicy string

const (
	PolicyStandard  RetentionPolicy = "standard"
	PolicyLegalHold RetentionPolicy = "legal-hold"
	PolicyTemporary RetentionPolicy = "temporary"
)

func (p RetentionPolicy) IsValid() bool {
	switch p {
	case PolicyStandard, PolicyLegalHold, PolicyTemporary:
		return true
	default:
		return false
	}
}

func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	if s == "" {
		return PolicyStandard, nil
	}
	p := RetentionPolicy(s)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid retention policy: %s (valid policies: standard, legal-hold, temporary)", s)
	}
	return p, nil
}

// SourceItem is one input byte source for an archive. RelativePath is the
// path the item keeps inside the packaged container; Open must return a fresh
// reader each call.
type SourceItem struct {
	RelativePath string
	Open         func() (io.ReadCloser, error)
	SizeHint     int64
}

// ArchiveRequest describes one logical upload. It is immutable once packaging
// begins.
type ArchiveRequest struct {
	Items  []SourceItem
	Tags   []string
	Policy RetentionPolicy
}

// ArchiveMeta carries the request fields that end up on the catalog record.
type ArchiveMeta struct {
	Tags   []string
	Policy RetentionPolicy
}

// TransferMode selects the upload path for a packaged archive.
type TransferMode string

const (
	TransferSingleShot TransferMode = "single-shot"
	TransferMultipart  TransferMode = "multipart"
)

// PartRange is one contiguous byte-range slice of a packaged archive.
// Numbers are 1-based and contiguous.
type PartRange struct {
	Number int
	Offset int64
	Length int64
}

// TransferPlan is the Strategist's decision for one payload.
type TransferPlan struct {
	Mode      TransferMode
	TotalSize int64
	ChunkSize int64
	Parts     []PartRange
}

// PartCount returns the number of parts in the plan (zero for single-shot).
func (p TransferPlan) PartCount() int { return len(p.Parts) }

// SessionState tracks an upload session through its lifetime.
type SessionState string

const (
	SessionOpen          SessionState = "open"
	SessionPartsInFlight SessionState = "parts-in-flight"
	SessionReconciling   SessionState = "reconciling"
	SessionCommitted     SessionState = "committed"
	SessionAborted       SessionState = "aborted"
)

// Terminal reports whether no further transitions are allowed from the state.
func (s SessionState) Terminal() bool {
	return s == SessionCommitted || s == SessionAborted
}

// UploadSession binds an upload's part capabilities to a single target object
// key until committed or aborted. A session is owned by exactly one upload
// flow; it is never mutated by two flows concurrently.
type UploadSession struct {
	ID          string       `json:"upload_id"`
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	ContentType string       `json:"content_type"`
	TotalSize   int64        `json:"total_size"`
	ChunkSize   int64        `json:"chunk_size"`
	PartCount   int          `json:"part_count"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Transition moves the session to next, enforcing the session state machine.
func (s *UploadSession) Transition(next SessionState) error {
	if s.State.Terminal() {
		return fmt.Errorf("session %s: cannot transition from terminal state %s to %s", s.ID, s.State, next)
	}
	allowed := map[SessionState][]SessionState{
		SessionOpen:          {SessionPartsInFlight, SessionReconciling, SessionAborted},
		SessionPartsInFlight: {SessionReconciling, SessionAborted},
		SessionReconciling:   {SessionCommitted, SessionAborted},
	}
	for _, n := range allowed[s.State] {
		if n == next {
			s.State = next
			return nil
		}
	}
	return fmt.Errorf("session %s: invalid transition %s -> %s", s.ID, s.State, next)
}

// PartRecord is one transferred part. Receipt is the opaque integrity token
// returned by the store, set only after a successful transfer.
type PartRecord struct {
	Number  int    `json:"part_number"`
	Offset  int64  `json:"-"`
	Length  int64  `json:"-"`
	Receipt string `json:"receipt_token"`
}

// Capability is a time-bounded write grant scoped to exactly one part of one
// session. It must not be reused for a different part or session.
type Capability struct {
	URL        string    `json:"url"`
	PartNumber int       `json:"part_number"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the capability's validity window has passed.
func (c Capability) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ArchiveStatus is the catalog-visible state of an archived object.
type ArchiveStatus string

const (
	StatusProcessing ArchiveStatus = "processing"
	StatusArchived   ArchiveStatus = "archived"
	StatusError      ArchiveStatus = "error"
)

// ArchiveRecord is the catalog metadata record for one archived object.
// A record with StatusArchived implies a committed store session (or a
// completed single-shot put) with identical size and fingerprint.
type ArchiveRecord struct {
	FileID      uuid.UUID       `json:"file_id"`
	StorageKey  string          `json:"storage_key"`
	Filename    string          `json:"filename"`
	Size        int64           `json:"size"`
	Tags        []string        `json:"tags"`
	ContentType string          `json:"content_type"`
	Policy      RetentionPolicy `json:"policy"`
	Status      ArchiveStatus   `json:"status"`
	Fingerprint string          `json:"fingerprint"`
	ArchivedAt  time.Time       `json:"archived_at"`
}

// Progress is emitted once per completed part (or once for a single-shot
// upload) to a single listener.
type Progress struct {
	PartNumber     int
	PartsCompleted int
	PartsTotal     int
	BytesCompleted int64
	BytesTotal     int64
}

// ProgressFunc consumes progress events. Implementations must be fast; the
// upload flow calls it synchronously.
type ProgressFunc func(Progress)
