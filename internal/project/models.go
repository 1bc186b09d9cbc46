package project

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft      = "draft"
	StatusGenerating = "generating"
	StatusCompiling  = "compiling"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	ClipStatusPending    = "pending"
	ClipStatusProcessing = "processing"
	ClipStatusCompleted  = "completed"
	ClipStatusFailed     = "failed"

	TransitionCut      = "cut"
	TransitionSeamless = "seamless"

	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"

	DefaultClipDuration = 5
)

// Project is one video to be assembled from a set of generated clips.
type Project struct {
	ID                 string    `json:"id"`
	WorkspaceID        string    `json:"workspace_id"`
	Title              string    `json:"title"`
	AspectRatio        string    `json:"aspect_ratio"`
	MusicURL           string    `json:"music_url,omitempty"`
	MusicVolume        int       `json:"music_volume"`
	GenerateAudio      bool      `json:"generate_audio"`
	Status             string    `json:"status"`
	ClipCount          int       `json:"clip_count"`
	CompletedClipCount int       `json:"completed_clip_count"`
	EstimatedCost      float64   `json:"estimated_cost"`
	ActualCost         float64   `json:"actual_cost"`
	FinalVideoURL      string    `json:"final_video_url,omitempty"`
	DurationSeconds    int       `json:"duration_seconds"`
	ThumbnailURL       string    `json:"thumbnail_url,omitempty"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsTerminal reports whether the project can no longer change status.
func (p *Project) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// Clip is a single generated segment of a project. SequenceOrder is 1-based
// and defines concatenation order.
type Clip struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	SequenceOrder   int       `json:"sequence_order"`
	ImageURL        string    `json:"image_url"`
	EndImageURL     string    `json:"end_image_url,omitempty"`
	Status          string    `json:"status"`
	ClipURL         string    `json:"clip_url,omitempty"`
	TransitionURL   string    `json:"transition_url,omitempty"`
	TransitionMode  string    `json:"transition_mode"`
	DurationSeconds int       `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Compilable reports whether the clip can be included in the final video.
func (c *Clip) Compilable() bool {
	return c.Status == ClipStatusCompleted && c.ClipURL != ""
}

// IsTerminal reports whether generation for the clip has finished.
func (c *Clip) IsTerminal() bool {
	return c.Status == ClipStatusCompleted || c.Status == ClipStatusFailed
}

// Run is one queued invocation of the pipeline for a project.
type Run struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	FinalVideoURL  string    `json:"final_video_url,omitempty"`
	SucceededCount int       `json:"succeeded_count"`
	FailedCount    int       `json:"failed_count"`
	ActualCost     float64   `json:"actual_cost"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProjectUpdate carries a partial update. Nil fields are left untouched.
type ProjectUpdate struct {
	Status             *string
	ClipCount          *int
	CompletedClipCount *int
	EstimatedCost      *float64
	ActualCost         *float64
	FinalVideoURL      *string
	DurationSeconds    *int
	ThumbnailURL       *string
	Error              *string
}

// ClipUpdate carries a partial clip update. Nil fields are left untouched.
type ClipUpdate struct {
	Status  *string
	ClipURL *string
	Error   *string
}

// ClipAggregates is the result of recounting a project's clips.
type ClipAggregates struct {
	Total     int
	Completed int
	Failed    int
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CanTransition enforces the forward-only project lifecycle.
func CanTransition(from, to string) bool {
	if from == to {
		return from != StatusCompleted && from != StatusFailed
	}
	switch from {
	case StatusDraft:
		return to == StatusGenerating || to == StatusFailed
	case StatusGenerating:
		return to == StatusCompiling || to == StatusFailed
	case StatusCompiling:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

func NewID() string {
	return uuid.New().String()
}

// Ptr returns a pointer to v, for building partial updates.
func Ptr[T any](v T) *T {
	return &v
}
