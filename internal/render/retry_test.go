package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/project"
)

type scriptedRunner struct {
	calls int
	errs  []error
}

func (s *scriptedRunner) Run(context.Context, string) (*Result, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &Result{FinalVideoURL: "https://cdn.test/final.mp4"}, nil
}

func newTestRetrying(next Runner, attempts int) (*RetryingCompiler, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetryingCompiler(next, RetryPolicy{Attempts: attempts, MinBackoff: 5 * time.Second, MaxBackoff: 60 * time.Second}, logging.Discard())
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetryingCompiler_RetriesTransientFailure(t *testing.T) {
	next := &scriptedRunner{errs: []error{project.Fail("video compilation failed", project.ErrTranscode)}}
	r, slept := newTestRetrying(next, 2)

	result, err := r.Run(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.FinalVideoURL == "" || next.calls != 2 {
		t.Errorf("calls = %d, result = %+v", next.calls, result)
	}
	if len(*slept) != 1 || (*slept)[0] != 5*time.Second {
		t.Errorf("slept = %v, want [5s]", *slept)
	}
}

func TestRetryingCompiler_GivesUpAfterAttempts(t *testing.T) {
	transient := project.Fail("video compilation failed", project.ErrTranscode)
	next := &scriptedRunner{errs: []error{transient, transient, transient}}
	r, _ := newTestRetrying(next, 2)

	_, err := r.Run(context.Background(), "p1")
	if !errors.Is(err, project.ErrTranscode) {
		t.Fatalf("Run() error = %v", err)
	}
	if next.calls != 2 {
		t.Errorf("calls = %d, want 2", next.calls)
	}
}

func TestRetryingCompiler_PermanentNotRetried(t *testing.T) {
	for _, perm := range []error{project.ErrNotFound, project.ErrNoCompletedClips, project.ErrInvalidState} {
		next := &scriptedRunner{errs: []error{perm}}
		r, slept := newTestRetrying(next, 3)

		if _, err := r.Run(context.Background(), "p1"); !errors.Is(err, perm) {
			t.Errorf("Run() error = %v, want %v", err, perm)
		}
		if next.calls != 1 || len(*slept) != 0 {
			t.Errorf("%v: calls = %d, slept = %v; want no retry", perm, next.calls, *slept)
		}
	}
}

func TestRetryingCompiler_StopsOnCancelledSleep(t *testing.T) {
	transient := errors.New("boom")
	next := &scriptedRunner{errs: []error{transient, transient}}
	r, _ := newTestRetrying(next, 3)
	r.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	if _, err := r.Run(context.Background(), "p1"); !errors.Is(err, transient) {
		t.Fatalf("Run() error = %v, want last attempt error", err)
	}
	if next.calls != 1 {
		t.Errorf("calls = %d, want 1", next.calls)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{Attempts: 5, MinBackoff: 5 * time.Second, MaxBackoff: 60 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second},
		{9, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.n); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}
