package arkive

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically aborts upload sessions that exceeded the maximum age
// without completing. It is a safety net behind the upload flow's own abort
// path for clients that disappear mid-upload.
type Reaper struct {
	service  *ArchiveService
	interval time.Duration
}

// NewReaper returns a Reaper sweeping at the given interval (default: 10m).
func NewReaper(service *ArchiveService, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reaper{service: service, interval: interval}
}

// Run sweeps until ctx is cancelled. Sweep failures are logged, never fatal;
// the next tick retries.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.service.ReapExpired(ctx)
			if err != nil {
				slog.Warn("session reap sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("session reap sweep complete", "reaped", n)
			}
		}
	}
}
