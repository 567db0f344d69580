package core

// sweeper.go evicts idle import runs.
//
// Runs hold raw rows in memory for correction. A user who walks away from the
// correction screen never closes the run, so a cron job drops runs that have
// been idle longer than the run TTL.

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/finimport/internal/logging"
)

// SweepIdleRuns removes runs idle longer than the run TTL and returns how
// many were removed.
func (s *Service) SweepIdleRuns(ctx context.Context) int {
	cutoff := s.now().Add(-s.opts.RunTTL)

	s.mu.Lock()
	var expired []*Run
	for id, run := range s.runs {
		if run.idleSince().Before(cutoff) {
			expired = append(expired, run)
			delete(s.runs, id)
		}
	}
	n := len(s.runs)
	s.mu.Unlock()

	for _, run := range expired {
		_, imported, skipped, errored := run.Counts()
		s.runLogger(ctx, run).Info("import run expired",
			"imported", imported,
			"unresolved", skipped+errored,
		)
	}
	if len(expired) > 0 {
		s.recorder.RunsActive(n)
	}
	return len(expired)
}

// StartRunSweeper schedules SweepIdleRuns on a cron spec such as
// "@every 5m". The scheduler stops when ctx is cancelled.
func (s *Service) StartRunSweeper(ctx context.Context, schedule string) error {
	logger := logging.WithFields(ctx, "component", "run_sweeper")

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if n := s.SweepIdleRuns(ctx); n > 0 {
			logger.Debug("run sweep completed", "expired", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule run sweeper %q: %w", schedule, err)
	}

	c.Start()
	logger.Info("run sweeper started", "schedule", schedule, "ttl", s.opts.RunTTL)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		logger.Info("run sweeper stopped")
	}()
	return nil
}
