package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs poll cycles on a fixed interval. Cycles never overlap; a
// cycle still running when the next tick fires makes that tick a no-op.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	log    *slog.Logger
}

// NewScheduler creates a Scheduler that polls availability every interval.
func NewScheduler(
	eng *Engine,
	pollInterval time.Duration,
	log *slog.Logger,
) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	s := &Scheduler{
		cron:   c,
		engine: eng,
		log:    log,
	}

	if _, err := c.AddFunc("@every "+pollInterval.String(), s.runCycle); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins running scheduled cycles.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started")
	s.cron.Start()
}

// Stop gracefully stops the scheduler, waiting for running jobs to finish.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("scheduler stopping")
	return s.cron.Stop()
}

// Entries returns the registered cron entries for inspection.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) runCycle() {
	ctx := context.Background()
	s.log.Info("scheduled poll cycle starting")
	if err := s.engine.RunCycle(ctx); err != nil {
		s.log.Error("scheduled poll cycle failed", "error", err)
	}
}
