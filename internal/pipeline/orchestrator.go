// Package pipeline drives a project from draft to a compiled video: it fans
// clip generation out, waits for every clip to settle, then hands the
// survivors to the compiler.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/progress"
	"github.com/heimdex/reelforge/internal/project"
	"github.com/heimdex/reelforge/internal/render"
)

const (
	DefaultTimeout = 30 * time.Minute

	failureWriteTimeout = 10 * time.Second
)

// Outcome is the terminal state of one clip generation.
type Outcome struct {
	ClipID  string `json:"clip_id"`
	Status  string `json:"status"`
	ClipURL string `json:"clip_url,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (o Outcome) Succeeded() bool {
	return o.Status == project.ClipStatusCompleted && o.ClipURL != ""
}

// Dispatcher generates a single clip and blocks until it is terminal.
type Dispatcher interface {
	Dispatch(ctx context.Context, clipID string) (Outcome, error)
}

// Summary is the structured result of a successful run.
type Summary struct {
	FinalVideoURL   string  `json:"final_video_url"`
	DurationSeconds int     `json:"duration_seconds"`
	SucceededCount  int     `json:"succeeded_count"`
	FailedCount     int     `json:"failed_count"`
	ActualCost      float64 `json:"actual_cost"`
}

type Options struct {
	ClipUnitCost float64
	Timeout      time.Duration
}

type Orchestrator struct {
	repo       project.Repository
	dispatcher Dispatcher
	compiler   render.Runner
	progress   progress.Publisher
	unitCost   float64
	timeout    time.Duration
	logger     *slog.Logger
}

func NewOrchestrator(repo project.Repository, dispatcher Dispatcher, compiler render.Runner, pub progress.Publisher, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		repo:       repo,
		dispatcher: dispatcher,
		compiler:   compiler,
		progress:   pub,
		unitCost:   opts.ClipUnitCost,
		timeout:    opts.Timeout,
		logger:     logging.WithComponent(logger, "orchestrator"),
	}
}

// Run executes the whole pipeline for one project. Missing projects, empty
// projects and projects that already finished are rejected without touching
// their state; every later failure marks the project failed.
func (o *Orchestrator) Run(ctx context.Context, projectID string) (*Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	logger := logging.WithProjectID(o.logger, projectID)

	p, err := o.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", projectID, project.ErrNotFound)
	}
	if !project.CanTransition(p.Status, project.StatusGenerating) {
		return nil, fmt.Errorf("project %s is %s: %w", projectID, p.Status, project.ErrInvalidState)
	}

	clips, err := o.repo.ListClips(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load clips: %w", err)
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("project %s: %w", projectID, project.ErrEmptyBatch)
	}

	total := len(clips)
	o.publish(ctx, logger, projectID, progress.Progress{Step: progress.StepStarting, Label: "Starting"})

	if err := o.repo.UpdateProject(ctx, projectID, project.ProjectUpdate{
		Status:        project.Ptr(project.StatusGenerating),
		ClipCount:     project.Ptr(total),
		EstimatedCost: project.Ptr(float64(total) * o.unitCost),
	}); err != nil {
		return nil, o.fail(ctx, logger, projectID, project.Fail("video generation failed", err))
	}

	logger.Info("generating clips", "clip_count", total)
	outcomes := o.dispatchAll(ctx, logger, projectID, clips)
	if ctx.Err() != nil {
		return nil, o.fail(ctx, logger, projectID, project.Fail("video generation timed out", ctx.Err()))
	}

	succeeded, failed := 0, 0
	for _, out := range outcomes {
		if out.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}

	if _, err := o.repo.UpdateClipAggregates(ctx, projectID); err != nil {
		return nil, o.fail(ctx, logger, projectID, project.Fail("video generation failed", err))
	}

	if succeeded == 0 {
		return nil, o.fail(ctx, logger, projectID, project.Fail(project.ErrAllClipsFailed.Error(), project.ErrAllClipsFailed))
	}
	if failed > 0 {
		logger.Warn("continuing with partial clips", "succeeded_count", succeeded, "failed_count", failed)
	}

	if err := o.repo.UpdateProject(ctx, projectID, project.ProjectUpdate{
		Status: project.Ptr(project.StatusCompiling),
	}); err != nil {
		return nil, o.fail(ctx, logger, projectID, project.Fail("video compilation failed", err))
	}
	o.publish(ctx, logger, projectID, progress.Percent(progress.StepCompiling, "Compiling video", 0))

	result, err := o.compiler.Run(ctx, projectID)
	if err != nil {
		return nil, o.fail(ctx, logger, projectID, err)
	}

	summary := &Summary{
		FinalVideoURL:   result.FinalVideoURL,
		DurationSeconds: result.DurationSeconds,
		SucceededCount:  succeeded,
		FailedCount:     failed,
		ActualCost:      float64(succeeded) * o.unitCost,
	}

	if err := o.repo.UpdateProject(ctx, projectID, project.ProjectUpdate{
		ActualCost: project.Ptr(summary.ActualCost),
	}); err != nil {
		logger.Error("failed to record actual cost", "error", err)
	}

	o.publish(ctx, logger, projectID, progress.Percent(progress.StepCompleted, "Video ready", 100))

	logger.Info("pipeline completed",
		"succeeded_count", succeeded,
		"failed_count", failed,
		"duration_seconds", summary.DurationSeconds,
		"actual_cost", summary.ActualCost,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

// dispatchAll generates every clip concurrently and returns once all of them
// are terminal. A dispatch error counts as a failed clip.
func (o *Orchestrator) dispatchAll(ctx context.Context, logger *slog.Logger, projectID string, clips []*project.Clip) []Outcome {
	total := len(clips)
	outcomes := make([]Outcome, total)

	o.publish(ctx, logger, projectID, progress.Counted(progress.StepGenerating, fmt.Sprintf("Generated 0/%d clips", total), 0, total))

	var mu sync.Mutex
	done := 0

	var g errgroup.Group
	for i, clip := range clips {
		i, clip := i, clip
		g.Go(func() error {
			out, err := o.dispatcher.Dispatch(ctx, clip.ID)
			if err != nil {
				logging.WithClipID(logger, clip.ID).Warn("clip dispatch failed", "error", err)
				out = Outcome{ClipID: clip.ID, Status: project.ClipStatusFailed, Error: "generation failed"}
			}
			outcomes[i] = out

			mu.Lock()
			done++
			o.publish(ctx, logger, projectID, progress.Counted(progress.StepGenerating, fmt.Sprintf("Generated %d/%d clips", done, total), done, total))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// fail reports cause on the progress channel, marks the project failed and
// returns cause. Write errors are logged and swallowed.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, projectID string, cause error) error {
	reason := project.Reason(cause)
	logger.Error("pipeline failed", "reason", reason, "error", cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	o.publish(ctx, logger, projectID, progress.Progress{Step: progress.StepFailed, Label: reason})

	p, err := o.repo.GetProject(ctx, projectID)
	if err != nil || p == nil {
		logger.Error("failed to load project for failure update", "error", err)
		return cause
	}
	if !project.CanTransition(p.Status, project.StatusFailed) {
		logger.Warn("project already terminal, not marking failed", "status", p.Status)
		return cause
	}
	if err := o.repo.UpdateProject(ctx, projectID, project.ProjectUpdate{
		Status: project.Ptr(project.StatusFailed),
		Error:  project.Ptr(reason),
	}); err != nil {
		logger.Error("failed to mark project failed", "error", err)
	}
	return cause
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, projectID string, p progress.Progress) {
	if err := o.progress.Publish(ctx, projectID, p); err != nil {
		logger.Warn("failed to publish progress", "step", p.Step, "error", err)
	}
}
