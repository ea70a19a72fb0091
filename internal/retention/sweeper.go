// Package retention deletes long-revoked sessions on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const runTimeout = time.Minute

// Purger deletes REVOKED sessions older than a cutoff. *service.Registry implements it.
type Purger interface {
	PurgeRevoked(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper runs Purger.PurgeRevoked on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	cron      *cron.Cron
	purger    Purger
	retention time.Duration
	log       *zap.Logger
}

// NewSweeper validates schedule and registers the purge job. A retention of zero or less
// registers nothing: revoked sessions are kept forever.
func NewSweeper(purger Purger, retention time.Duration, schedule string, log *zap.Logger) (*Sweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sweeper{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		purger:    purger,
		retention: retention,
		log:       log.Named("retention"),
	}
	if retention <= 0 {
		s.log.Info("retention disabled, revoked sessions are kept")
		return s, nil
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.log.Info("retention sweeper started", zap.Duration("retention", s.retention))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce purges immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	return s.purger.PurgeRevoked(ctx, s.retention)
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	start := time.Now()
	n, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("purge of revoked sessions failed", zap.Error(err))
		return
	}
	s.log.Info("purge of revoked sessions complete",
		zap.Int64("deleted", n),
		zap.Duration("took", time.Since(start)),
	)
}
