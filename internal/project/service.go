package project

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// NewProjectRequest describes a project and its ordered source images.
type NewProjectRequest struct {
	WorkspaceID   string           `json:"workspace_id"`
	Title         string           `json:"title"`
	AspectRatio   string           `json:"aspect_ratio"`
	MusicURL      string           `json:"music_url,omitempty"`
	MusicVolume   *int             `json:"music_volume,omitempty"`
	GenerateAudio bool             `json:"generate_audio"`
	Clips         []NewClipRequest `json:"clips"`
}

type NewClipRequest struct {
	SequenceOrder   int    `json:"sequence_order,omitempty"`
	ImageURL        string `json:"image_url"`
	EndImageURL     string `json:"end_image_url,omitempty"`
	TransitionURL   string `json:"transition_url,omitempty"`
	TransitionMode  string `json:"transition_mode,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type ProjectService interface {
	CreateProject(ctx context.Context, req NewProjectRequest) (*Project, []*Clip, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	GetClips(ctx context.Context, projectID string) ([]*Clip, error)
	RequestRun(ctx context.Context, projectID string) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// CreateProject stores a draft project and its clips. Clips without an
// explicit sequence order are numbered 1..N in request order; the resulting
// order must be dense.
func (s *Service) CreateProject(ctx context.Context, req NewProjectRequest) (*Project, []*Clip, error) {
	if req.WorkspaceID == "" {
		return nil, nil, invalidf("workspace_id is required")
	}
	if len(req.Clips) == 0 {
		return nil, nil, invalidf("at least one clip is required")
	}

	volume := 50
	if req.MusicVolume != nil {
		volume = *req.MusicVolume
	}
	if volume < 0 || volume > 100 {
		return nil, nil, invalidf("music_volume must be between 0 and 100")
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = "16:9"
	}

	now := time.Now()
	p := &Project{
		ID:            NewID(),
		WorkspaceID:   req.WorkspaceID,
		Title:         req.Title,
		AspectRatio:   aspect,
		MusicURL:      strings.TrimSpace(req.MusicURL),
		MusicVolume:   volume,
		GenerateAudio: req.GenerateAudio,
		Status:        StatusDraft,
		ClipCount:     len(req.Clips),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	clips := make([]*Clip, 0, len(req.Clips))
	for i, c := range req.Clips {
		if c.ImageURL == "" {
			return nil, nil, invalidf("clip %d: image_url is required", i+1)
		}
		seq := c.SequenceOrder
		if seq == 0 {
			seq = i + 1
		}
		mode := c.TransitionMode
		if mode == "" {
			mode = TransitionCut
		}
		if mode != TransitionCut && mode != TransitionSeamless {
			return nil, nil, invalidf("clip %d: unknown transition_mode %q", i+1, mode)
		}
		duration := c.DurationSeconds
		if duration <= 0 {
			duration = DefaultClipDuration
		}
		clips = append(clips, &Clip{
			ID:              NewID(),
			ProjectID:       p.ID,
			SequenceOrder:   seq,
			ImageURL:        c.ImageURL,
			EndImageURL:     c.EndImageURL,
			Status:          ClipStatusPending,
			TransitionURL:   c.TransitionURL,
			TransitionMode:  mode,
			DurationSeconds: duration,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	sort.Slice(clips, func(i, j int) bool { return clips[i].SequenceOrder < clips[j].SequenceOrder })
	for i, c := range clips {
		if c.SequenceOrder != i+1 {
			return nil, nil, invalidf("clip sequence must be dense starting at 1, got %d at position %d", c.SequenceOrder, i+1)
		}
	}

	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, nil, err
	}
	for _, c := range clips {
		if err := s.repo.CreateClip(ctx, c); err != nil {
			return nil, nil, err
		}
	}

	if s.logger != nil {
		s.logger.Info("project created", "project_id", p.ID, "workspace_id", p.WorkspaceID, "clips", len(clips))
	}
	return p, clips, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.repo.GetProject(ctx, id)
}

func (s *Service) GetClips(ctx context.Context, projectID string) ([]*Clip, error) {
	return s.repo.ListClips(ctx, projectID)
}

func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.repo.GetRun(ctx, id)
}

// RequestRun enqueues a pipeline run for the project. A project with a run
// already pending or running gets that run back instead of a second one.
func (s *Service) RequestRun(ctx context.Context, projectID string) (*Run, error) {
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if p.IsTerminal() {
		return nil, fmt.Errorf("project %s is %s: %w", projectID, p.Status, ErrInvalidState)
	}

	existing, err := s.repo.FindActiveRun(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	run := &Run{
		ID:        NewID(),
		ProjectID: projectID,
		Status:    RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("run requested", "run_id", run.ID, "project_id", projectID)
	}
	return run, nil
}
