package api

import (
	"time"

	"github.com/heimdex/reelforge/internal/progress"
	"github.com/heimdex/reelforge/internal/project"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string          `json:"state"`
	ActiveRuns  int             `json:"active_runs"`
	PendingRuns int             `json:"pending_runs"`
	LastError   string          `json:"last_error,omitempty"`
	FFmpeg      *FFmpegResponse `json:"ffmpeg,omitempty"`
}

type FFmpegResponse struct {
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Path        string `json:"path,omitempty"`
	Error       string `json:"error,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type ProjectResponse struct {
	ID                 string  `json:"id"`
	WorkspaceID        string  `json:"workspace_id"`
	Title              string  `json:"title"`
	AspectRatio        string  `json:"aspect_ratio"`
	MusicURL           string  `json:"music_url,omitempty"`
	MusicVolume        int     `json:"music_volume"`
	GenerateAudio      bool    `json:"generate_audio"`
	Status             string  `json:"status"`
	ClipCount          int     `json:"clip_count"`
	CompletedClipCount int     `json:"completed_clip_count"`
	EstimatedCost      float64 `json:"estimated_cost"`
	ActualCost         float64 `json:"actual_cost"`
	FinalVideoURL      string  `json:"final_video_url,omitempty"`
	DurationSeconds    int     `json:"duration_seconds"`
	ThumbnailURL       string  `json:"thumbnail_url,omitempty"`
	Error              string  `json:"error,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

type ClipResponse struct {
	ID              string `json:"id"`
	SequenceOrder   int    `json:"sequence_order"`
	ImageURL        string `json:"image_url"`
	EndImageURL     string `json:"end_image_url,omitempty"`
	Status          string `json:"status"`
	ClipURL         string `json:"clip_url,omitempty"`
	TransitionURL   string `json:"transition_url,omitempty"`
	TransitionMode  string `json:"transition_mode"`
	DurationSeconds int    `json:"duration_seconds"`
	Error           string `json:"error,omitempty"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type CreateProjectResponse struct {
	Project ProjectResponse `json:"project"`
	Clips   []ClipResponse  `json:"clips"`
}

type ProgressResponse struct {
	Step            string `json:"step"`
	Label           string `json:"label"`
	CurrentIndex    *int   `json:"current_index,omitempty"`
	TotalCount      *int   `json:"total_count,omitempty"`
	PercentComplete *int   `json:"percent_complete,omitempty"`
	UpdatedAt       string `json:"updated_at"`
}

type RunResponse struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
	FinalVideoURL  string  `json:"final_video_url,omitempty"`
	SucceededCount int     `json:"succeeded_count"`
	FailedCount    int     `json:"failed_count"`
	ActualCost     float64 `json:"actual_cost"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type RunnerStateResponse struct {
	Paused  bool `json:"paused"`
	Running bool `json:"running"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *project.Project) ProjectResponse {
	return ProjectResponse{
		ID:                 p.ID,
		WorkspaceID:        p.WorkspaceID,
		Title:              p.Title,
		AspectRatio:        p.AspectRatio,
		MusicURL:           p.MusicURL,
		MusicVolume:        p.MusicVolume,
		GenerateAudio:      p.GenerateAudio,
		Status:             p.Status,
		ClipCount:          p.ClipCount,
		CompletedClipCount: p.CompletedClipCount,
		EstimatedCost:      p.EstimatedCost,
		ActualCost:         p.ActualCost,
		FinalVideoURL:      p.FinalVideoURL,
		DurationSeconds:    p.DurationSeconds,
		ThumbnailURL:       p.ThumbnailURL,
		Error:              p.Error,
		CreatedAt:          p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          p.UpdatedAt.Format(time.RFC3339),
	}
}

func ClipToResponse(c *project.Clip) ClipResponse {
	return ClipResponse{
		ID:              c.ID,
		SequenceOrder:   c.SequenceOrder,
		ImageURL:        c.ImageURL,
		EndImageURL:     c.EndImageURL,
		Status:          c.Status,
		ClipURL:         c.ClipURL,
		TransitionURL:   c.TransitionURL,
		TransitionMode:  c.TransitionMode,
		DurationSeconds: c.DurationSeconds,
		Error:           c.Error,
	}
}

func ClipsToResponse(clips []*project.Clip) []ClipResponse {
	out := make([]ClipResponse, len(clips))
	for i, c := range clips {
		out[i] = ClipToResponse(c)
	}
	return out
}

func ProgressToResponse(p *progress.Progress) ProgressResponse {
	return ProgressResponse{
		Step:            p.Step,
		Label:           p.Label,
		CurrentIndex:    p.CurrentIndex,
		TotalCount:      p.TotalCount,
		PercentComplete: p.PercentComplete,
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
}

func RunToResponse(r *project.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		Status:         r.Status,
		Error:          r.Error,
		FinalVideoURL:  r.FinalVideoURL,
		SucceededCount: r.SucceededCount,
		FailedCount:    r.FailedCount,
		ActualCost:     r.ActualCost,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
}
