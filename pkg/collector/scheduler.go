package collector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/quartz"
)

// Runner is the part of Pipeline the scheduler needs.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Scheduler runs a cycle at start, on every interval tick, and whenever
// Trigger is called. Cycles never overlap.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	clock    quartz.Clock
	forceCh  chan struct{}
}

func NewScheduler(runner Runner, interval time.Duration, clock quartz.Clock) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		clock:    clock,
		forceCh:  make(chan struct{}, 1),
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx, "startup")
	t := s.clock.NewTicker(s.interval, "scheduler", "interval")
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runOnce(ctx, "interval")
		case <-s.forceCh:
			s.runOnce(ctx, "manual")
		}
	}
}

// Trigger requests a cycle without blocking. Requests made while one is
// already pending collapse into it.
func (s *Scheduler) Trigger() {
	select {
	case s.forceCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrBusy):
		slog.Debug("collection skipped, previous cycle still running", "reason", reason)
	case errors.Is(err, context.Canceled):
		slog.Info("collection cancelled", "reason", reason)
	default:
		slog.Error("collection cycle failed", "reason", reason, "error", err)
	}
}
