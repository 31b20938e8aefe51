// Package scheduler runs the periodic sweep that resumes job polling for
// rules left in flight, for example across a restart.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 30 * time.Second

// Reconciler resumes polling for every in-flight rule.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// Scheduler drives a Reconciler on a cron schedule. Overlapping sweeps are
// skipped rather than queued.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
}

// New parses schedule (standard five-field cron or a descriptor such as
// "@every 30s") and registers the sweep.
func New(r Reconciler, schedule string) (*Scheduler, error) {
	logger := slogLogger{}
	s := &Scheduler{
		cron: cron.New(cron.WithLogger(logger), cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		reconciler: r,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	slog.Info("reconcile scheduler started", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("reconcile sweep still running at shutdown")
	}
}

// RunOnce performs a single sweep immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	return s.reconciler.ReconcileAll(ctx)
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := s.RunOnce(ctx)
	if err != nil {
		slog.Error("reconcile sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("reconcile sweep resumed polling", "count", n)
	}
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
