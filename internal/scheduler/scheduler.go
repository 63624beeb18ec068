// Package scheduler runs the reconciler periodically and serializes cycles
// via a file lock. It fires once immediately, then waits on either the
// next tick or shutdown.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// CycleResult is the minimal shape the scheduler needs back from a cycle
// run, independent of the reconcile package's richer Result type.
type CycleResult interface{}

// Reconciler is the single operation the scheduler drives.
type Reconciler interface {
	Run(ctx context.Context) (CycleResult, error)
}

// ReconcilerFunc adapts a plain function to the Reconciler interface.
type ReconcilerFunc func(ctx context.Context) (CycleResult, error)

func (f ReconcilerFunc) Run(ctx context.Context) (CycleResult, error) { return f(ctx) }

// Config configures the scheduler's firing policy. CronExpression, if
// non-empty, overrides IntervalSeconds.
type Config struct {
	IntervalSeconds int
	CronExpression  string
}

// Scheduler runs Reconciler on a schedule until its context is canceled.
// It never lets two cycles run concurrently: a new tick arriving while a
// cycle is still in flight is coalesced (dropped), relying on the
// reconciler's own file lock as the second line of defense.
type Scheduler struct {
	Reconciler Reconciler
	Config     Config
	Log        logr.Logger

	running chan struct{} // 1-buffered: acts as a non-blocking mutex
}

// New constructs a Scheduler ready to Run.
func New(reconciler Reconciler, cfg Config, log logr.Logger) (*Scheduler, error) {
	if cfg.CronExpression == "" && cfg.IntervalSeconds < 1 {
		return nil, fmt.Errorf("scheduler: interval_seconds must be >= 1 when no cron expression is set")
	}
	if cfg.CronExpression != "" {
		if _, err := parseCron(cfg.CronExpression); err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}
	return &Scheduler{
		Reconciler: reconciler,
		Config:     cfg,
		Log:        log,
		running:    make(chan struct{}, 1),
	}, nil
}

// Run fires one cycle immediately, then loops on the configured schedule
// until ctx is canceled. Cycles run on Run's own goroutine: a cancellation
// during the wait between cycles returns at once, while one that arrives
// mid-cycle takes effect only after that cycle's Run call returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.fire(ctx)

	for {
		wait := s.nextDelay()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.Log.Info("scheduler shutting down")
			return nil
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.Config.CronExpression != "" {
		schedule, err := parseCron(s.Config.CronExpression)
		if err != nil {
			// Validated in New; unreachable in practice.
			return time.Duration(s.Config.IntervalSeconds) * time.Second
		}
		now := time.Now()
		return schedule.next(now).Sub(now)
	}
	interval := s.Config.IntervalSeconds
	if interval < 1 {
		interval = 1
	}
	return time.Duration(interval) * time.Second
}

// fire runs one cycle if none is already in flight; otherwise it logs and
// coalesces the missed tick.
func (s *Scheduler) fire(ctx context.Context) {
	select {
	case s.running <- struct{}{}:
	default:
		s.Log.Info("scheduler tick coalesced: previous cycle still running")
		return
	}
	defer func() { <-s.running }()

	if _, err := s.Reconciler.Run(ctx); err != nil {
		s.Log.Error(err, "reconcile cycle returned an error")
	}
}
