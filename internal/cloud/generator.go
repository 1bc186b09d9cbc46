package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

var ErrGenerationFailed = errors.New("generation failed")

// GenerationRequest is the body of POST <base>/generations.
type GenerationRequest struct {
	ImageURL        string `json:"image_url"`
	EndImageURL     string `json:"end_image_url,omitempty"`
	AspectRatio     string `json:"aspect_ratio"`
	GenerateAudio   bool   `json:"generate_audio"`
	DurationSeconds int    `json:"duration_seconds"`
}

// GenerationTask is the remote view of one generation.
type GenerationTask struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (t *GenerationTask) IsTerminal() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}

// HTTPGenerator submits image-to-video generations and polls them to completion.
type HTTPGenerator struct {
	base
	pollInterval time.Duration
}

func NewHTTPGenerator(baseURL, token string, pollInterval time.Duration, logger *slog.Logger) *HTTPGenerator {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &HTTPGenerator{
		base: base{
			baseURL: strings.TrimRight(baseURL, "/"),
			token:   token,
			httpClient: &http.Client{
				Timeout: 60 * time.Second,
			},
			logger: logger,
		},
		pollInterval: pollInterval,
	}
}

// Generate submits req and blocks until the task is terminal or ctx ends.
// It returns the generated clip URL.
func (g *HTTPGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	task, err := g.Submit(ctx, req)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for !task.IsTerminal() {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("generation %s: %w", task.ID, ctx.Err())
		case <-ticker.C:
		}

		task, err = g.Get(ctx, task.ID)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.IsRetryable() {
				g.logger.Warn("generation poll failed, retrying", "task_id", task.ID, "error", err)
				continue
			}
			return "", err
		}
	}

	if task.Status == TaskFailed {
		msg := task.Error
		if msg == "" {
			msg = "no reason given"
		}
		return "", fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
	}
	if task.VideoURL == "" {
		return "", fmt.Errorf("%w: task %s succeeded without a video url", ErrGenerationFailed, task.ID)
	}
	return task.VideoURL, nil
}

func (g *HTTPGenerator) Submit(ctx context.Context, req GenerationRequest) (*GenerationTask, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := g.newRequest(ctx, http.MethodPost, g.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var task GenerationTask
	if err := g.do(httpReq, "submit generation", &task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, fmt.Errorf("submit generation: response has no task id")
	}

	g.logger.Info("generation submitted", "task_id", task.ID, "status", task.Status)
	return &task, nil
}

func (g *HTTPGenerator) Get(ctx context.Context, taskID string) (*GenerationTask, error) {
	req, err := g.newRequest(ctx, http.MethodGet, g.baseURL+"/generations/"+taskID, nil)
	if err != nil {
		return nil, err
	}

	task := GenerationTask{ID: taskID}
	if err := g.do(req, "get generation", &task); err != nil {
		return &task, err
	}
	return &task, nil
}
