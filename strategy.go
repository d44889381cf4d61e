package arkive

import (
	"fmt"
)

const (
	// MinChunkSize is the smallest chunk size accepted for multi-part
	// uploads. It matches the S3 minimum part size for all but the final
	// part; stores with a larger minimum must raise ChunkSize in config.
	MinChunkSize = 5 * 1024 * 1024

	// DefaultChunkSize is the chunk size used when none is configured.
	DefaultChunkSize = 5 * 1024 * 1024

	// DefaultSmallObjectThreshold is the payload size at or below which the
	// single-shot path is used.
	DefaultSmallObjectThreshold = 25 * 1024 * 1024
)

// StrategistConfig holds the transfer policy knobs. Both values are
// configuration, not constants: the chunk size carries a validated lower
// bound matching the object store's multi-part constraints.
type StrategistConfig struct {
	SmallObjectThreshold int64
	ChunkSize            int64
}

// Strategist decides, from total payload size, whether an upload is
// single-shot or multi-part, and owns the chunk-size policy for multi-part
// mode.
type Strategist struct {
	cfg StrategistConfig
}

// NewStrategist validates the config and returns a Strategist. A zero value
// for either knob selects its default.
func NewStrategist(cfg StrategistConfig) (*Strategist, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.SmallObjectThreshold == 0 {
		cfg.SmallObjectThreshold = DefaultSmallObjectThreshold
	}
	if cfg.ChunkSize < MinChunkSize {
		return nil, fmt.Errorf("new strategist: %w: chunk size %d below store minimum part size %d", ErrInvalidInput, cfg.ChunkSize, MinChunkSize)
	}
	if cfg.SmallObjectThreshold < cfg.ChunkSize {
		return nil, fmt.Errorf("new strategist: %w: small-object threshold %d below chunk size %d", ErrInvalidInput, cfg.SmallObjectThreshold, cfg.ChunkSize)
	}
	return &Strategist{cfg: cfg}, nil
}

// ChunkSize returns the configured chunk size.
func (s *Strategist) ChunkSize() int64 { return s.cfg.ChunkSize }

// Plan selects the transfer path for a payload of totalSize bytes. Sizes at
// or below the threshold go single-shot; anything larger is split into
// ceil(totalSize/chunkSize) parts where every part except the last has length
// exactly chunkSize. Empty payloads are rejected.
func (s *Strategist) Plan(totalSize int64) (TransferPlan, error) {
	if totalSize < 0 {
		return TransferPlan{}, fmt.Errorf("plan transfer: %w: negative size %d", ErrInvalidInput, totalSize)
	}
	if totalSize == 0 {
		return TransferPlan{}, fmt.Errorf("plan transfer: %w", ErrEmptyArchive)
	}

	if totalSize <= s.cfg.SmallObjectThreshold {
		return TransferPlan{
			Mode:      TransferSingleShot,
			TotalSize: totalSize,
			ChunkSize: s.cfg.ChunkSize,
		}, nil
	}

	return TransferPlan{
		Mode:      TransferMultipart,
		TotalSize: totalSize,
		ChunkSize: s.cfg.ChunkSize,
		Parts:     PartRanges(totalSize, s.cfg.ChunkSize),
	}, nil
}

// PartRanges slices totalSize into 1-based contiguous part ranges of
// chunkSize bytes each, with a possibly shorter final part. Both the client
// flow and the service derive part layout through this single function so
// they always agree on part count.
func PartRanges(totalSize, chunkSize int64) []PartRange {
	if totalSize <= 0 || chunkSize <= 0 {
		return nil
	}
	n := int(totalSize / chunkSize)
	if totalSize%chunkSize != 0 {
		n++
	}
	parts := make([]PartRange, n)
	for i := range parts {
		off := int64(i) * chunkSize
		length := chunkSize
		if off+length > totalSize {
			length = totalSize - off
		}
		parts[i] = PartRange{Number: i + 1, Offset: off, Length: length}
	}
	return parts
}
