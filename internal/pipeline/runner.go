package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/project"
)

// Executor runs the pipeline for one project.
type Executor interface {
	Run(ctx context.Context, projectID string) (*Summary, error)
}

// Runner works through queued runs one at a time, oldest first.
type Runner struct {
	repo         project.Repository
	executor     Executor
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
	active       atomic.Int32
}

func NewRunner(repo project.Repository, executor Executor, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		executor:     executor,
		logger:       logging.WithComponent(logger, "runner"),
		pollInterval: 5 * time.Second,
		wake:         make(chan struct{}, 1),
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("run queue started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("run queue stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if r.paused.Load() {
			continue
		}
		for r.processNextRun(ctx) && !r.paused.Load() && ctx.Err() == nil {
		}
	}
}

// Notify wakes the loop without waiting for the next poll.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("run queue paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("run queue resumed")
	r.Notify()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveRuns returns the number of runs currently executing.
func (r *Runner) ActiveRuns() int {
	return int(r.active.Load())
}

// processNextRun executes the oldest pending run. It reports whether a run
// was found.
func (r *Runner) processNextRun(ctx context.Context) bool {
	runs, err := r.repo.ListPendingRuns(ctx)
	if err != nil {
		r.logger.Error("failed to list pending runs", "error", err)
		return false
	}
	if len(runs) == 0 {
		return false
	}

	run := runs[0]
	logger := logging.WithProjectID(logging.WithRunID(r.logger, run.ID), run.ProjectID)

	run.Status = project.RunStatusRunning
	if err := r.repo.UpdateRun(ctx, run); err != nil {
		logger.Error("failed to claim run", "error", err)
		return false
	}

	r.active.Add(1)
	defer r.active.Add(-1)

	logger.Info("processing run")
	summary, err := r.executor.Run(ctx, run.ProjectID)
	if err != nil {
		run.Status = project.RunStatusFailed
		run.Error = project.Reason(err)
		logger.Warn("run failed", "reason", run.Error, "error", err)
	} else {
		run.Status = project.RunStatusCompleted
		run.FinalVideoURL = summary.FinalVideoURL
		run.SucceededCount = summary.SucceededCount
		run.FailedCount = summary.FailedCount
		run.ActualCost = summary.ActualCost
		logger.Info("run completed", "succeeded_count", summary.SucceededCount, "failed_count", summary.FailedCount)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := r.repo.UpdateRun(ctx, run); err != nil {
		logger.Error("failed to record run result", "error", err)
	}
	return true
}
