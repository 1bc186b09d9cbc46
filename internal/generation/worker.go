// Package generation turns source images into clips through the remote
// generation service and owns clip status while it does.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heimdex/reelforge/internal/cloud"
	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/pipeline"
	"github.com/heimdex/reelforge/internal/project"
)

const recordTimeout = 10 * time.Second

type Generator interface {
	Generate(ctx context.Context, req cloud.GenerationRequest) (string, error)
}

// Worker implements pipeline.Dispatcher. At most `concurrency` remote
// generations are in flight across all projects.
type Worker struct {
	repo   project.Repository
	gen    Generator
	sem    chan struct{}
	logger *slog.Logger
}

func NewWorker(repo project.Repository, gen Generator, concurrency int, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		repo:   repo,
		gen:    gen,
		sem:    make(chan struct{}, concurrency),
		logger: logging.WithComponent(logger, "generation"),
	}
}

// Dispatch generates one clip and records the terminal state on it. A clip
// that already has a generated video is returned as-is, so redelivered
// dispatches do not regenerate.
func (w *Worker) Dispatch(ctx context.Context, clipID string) (pipeline.Outcome, error) {
	clip, err := w.repo.GetClip(ctx, clipID)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("load clip: %w", err)
	}
	if clip == nil {
		return pipeline.Outcome{}, fmt.Errorf("clip %s: %w", clipID, project.ErrNotFound)
	}
	if clip.Compilable() {
		return pipeline.Outcome{ClipID: clip.ID, Status: project.ClipStatusCompleted, ClipURL: clip.ClipURL}, nil
	}

	p, err := w.repo.GetProject(ctx, clip.ProjectID)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("load project: %w", err)
	}
	if p == nil {
		return pipeline.Outcome{}, fmt.Errorf("project %s: %w", clip.ProjectID, project.ErrNotFound)
	}

	logger := logging.WithClipID(logging.WithProjectID(w.logger, p.ID), clip.ID)

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return pipeline.Outcome{}, fmt.Errorf("clip %s cancelled while waiting for slot: %w", clip.ID, ctx.Err())
	}
	defer func() { <-w.sem }()

	if err := w.repo.UpdateClip(ctx, clip.ID, project.ClipUpdate{Status: project.Ptr(project.ClipStatusProcessing)}); err != nil {
		return pipeline.Outcome{}, fmt.Errorf("mark clip processing: %w", err)
	}

	start := time.Now()
	url, err := w.gen.Generate(ctx, cloud.GenerationRequest{
		ImageURL:        clip.ImageURL,
		EndImageURL:     clip.EndImageURL,
		AspectRatio:     p.AspectRatio,
		GenerateAudio:   p.GenerateAudio,
		DurationSeconds: clip.DurationSeconds,
	})
	if err != nil {
		reason := failureReason(err)
		logger.Warn("clip generation failed",
			"sequence_order", clip.SequenceOrder,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		w.record(ctx, logger, clip.ID, project.ClipUpdate{
			Status: project.Ptr(project.ClipStatusFailed),
			Error:  project.Ptr(reason),
		})
		return pipeline.Outcome{ClipID: clip.ID, Status: project.ClipStatusFailed, Error: reason}, nil
	}

	if err := w.record(ctx, logger, clip.ID, project.ClipUpdate{
		Status:  project.Ptr(project.ClipStatusCompleted),
		ClipURL: project.Ptr(url),
	}); err != nil {
		return pipeline.Outcome{}, fmt.Errorf("record clip result: %w", err)
	}

	logger.Info("clip generated",
		"sequence_order", clip.SequenceOrder,
		"duration_ms", time.Since(start).Milliseconds(),
		"clip_url", logging.SanitizeURL(url),
	)
	return pipeline.Outcome{ClipID: clip.ID, Status: project.ClipStatusCompleted, ClipURL: url}, nil
}

// record writes the terminal clip state even if ctx was cancelled mid-generation.
func (w *Worker) record(ctx context.Context, logger *slog.Logger, clipID string, u project.ClipUpdate) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := w.repo.UpdateClip(ctx, clipID, u); err != nil {
		logger.Error("failed to record clip state", "error", err)
		return err
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, cloud.ErrGenerationFailed):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "generation timed out"
	default:
		return "generation failed"
	}
}
