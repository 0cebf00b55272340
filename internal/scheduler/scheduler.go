package scheduler

import (
	"context"
	"time"

	"github.com/elonfeng/socialpulse/internal/logging"
	"github.com/elonfeng/socialpulse/internal/pipeline"
	"github.com/elonfeng/socialpulse/pkg/source"
)

// Runner is the part of the pipeline the scheduler drives.
type Runner interface {
	Run(ctx context.Context, refs []source.Ref) pipeline.Summary
}

// AfterRun receives each finished run's summary.
type AfterRun func(ctx context.Context, sum pipeline.Summary)

// Scheduler repeats the pipeline over the configured sources.
type Scheduler struct {
	runner   Runner
	refs     []source.Ref
	interval time.Duration
	after    AfterRun
	log      logging.Logger
}

// New creates a new scheduler.
func New(runner Runner, refs []source.Ref, interval time.Duration, after AfterRun, log logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		runner:   runner,
		refs:     refs,
		interval: interval,
		after:    after,
		log:      logging.OrDiscard(log),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled. Runs never
// overlap: ticks that arrive while a run is in progress are dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.log.Info("scheduler: initial run")
	s.runOnce(ctx)

	s.log.WithField("interval", s.interval).Info("scheduler: running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	sum := s.runner.Run(ctx, s.refs)
	for _, line := range sum.Lines() {
		s.log.WithField("run_id", sum.RunID).Info(line)
	}
	if s.after != nil && ctx.Err() == nil {
		s.after(ctx, sum)
	}
}
