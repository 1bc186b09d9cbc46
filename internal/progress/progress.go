// Package progress carries the latest pipeline progress per project.
// Each publish overwrites the previous value; readers only ever see the
// most recent one.
package progress

import (
	"context"
	"sync"
	"time"
)

const (
	StepStarting    = "starting"
	StepGenerating  = "generating"
	StepCompiling   = "compiling"
	StepDownloading = "downloading"
	StepEncoding    = "encoding"
	StepUploading   = "uploading"
	StepCompleted   = "completed"
	StepFailed      = "failed"
)

// Progress is a point-in-time snapshot for one project.
type Progress struct {
	Step            string    `json:"step"`
	Label           string    `json:"label,omitempty"`
	CurrentIndex    *int      `json:"current_index,omitempty"`
	TotalCount      *int      `json:"total_count,omitempty"`
	PercentComplete *int      `json:"percent_complete,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Counted builds a Progress with an index/total pair.
func Counted(step, label string, current, total int) Progress {
	return Progress{Step: step, Label: label, CurrentIndex: &current, TotalCount: &total}
}

// Percent builds a Progress with a completion percentage.
func Percent(step, label string, pct int) Progress {
	return Progress{Step: step, Label: label, PercentComplete: &pct}
}

// WithPercent returns a copy of p with the percentage set.
func (p Progress) WithPercent(pct int) Progress {
	p.PercentComplete = &pct
	return p
}

type Publisher interface {
	Publish(ctx context.Context, projectID string, p Progress) error
}

type Reader interface {
	// Latest returns the most recent progress, or nil if none was published.
	Latest(ctx context.Context, projectID string) (*Progress, error)
}

type Store interface {
	Publisher
	Reader
}

// MemoryStore keeps one slot per project in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]Progress
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]Progress), now: time.Now}
}

func (s *MemoryStore) Publish(_ context.Context, projectID string, p Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	s.mu.Lock()
	s.slots[projectID] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, projectID string) (*Progress, error) {
	s.mu.RLock()
	p, ok := s.slots[projectID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Discard drops every publish. Latest always returns nil.
type Discard struct{}

func (Discard) Publish(context.Context, string, Progress) error     { return nil }
func (Discard) Latest(context.Context, string) (*Progress, error) { return nil, nil }
