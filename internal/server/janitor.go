package server

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authgate/internal/logging"
)

// Sweeper deletes expired refresh-token rows.
type Sweeper interface {
	SweepExpiredSessions(ctx context.Context) (int64, error)
}

// ArchiveRunner moves one batch of old audit events to object storage.
type ArchiveRunner interface {
	ArchiveOnce(ctx context.Context) (int, error)
}

// Janitor periodically sweeps expired sessions and, when an archiver is set,
// archives old audit events.
type Janitor struct {
	interval time.Duration
	sweeper  Sweeper
	archiver ArchiveRunner
	logger   logging.Logger
}

// NewJanitor accepts a nil archiver; archiving is then skipped.
func NewJanitor(interval time.Duration, s Sweeper, a ArchiveRunner, l logging.Logger) *Janitor {
	return &Janitor{
		interval: interval,
		sweeper:  s,
		archiver: a,
		logger:   l.With("module", "janitor"),
	}
}

// Run ticks until ctx is cancelled. A non-positive interval disables it.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		j.logger.Info(ctx, "janitor disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	n, err := j.sweeper.SweepExpiredSessions(ctx)
	if err != nil {
		j.logger.Error(ctx, "sweep failed", "error", err)
	} else if n > 0 {
		j.logger.Info(ctx, "expired sessions removed", "count", n)
	}

	if j.archiver == nil {
		return
	}
	archived, err := j.archiver.ArchiveOnce(ctx)
	if err != nil {
		j.logger.Error(ctx, "audit archive failed", "error", err)
	} else if archived > 0 {
		j.logger.Info(ctx, "audit events archived", "count", archived)
	}
}
