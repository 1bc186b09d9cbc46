package render

import (
	"context"
	"log/slog"
	"time"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/project"
)

// RetryPolicy bounds compilation retries. Delays double from MinBackoff and
// are clamped to [MinBackoff, MaxBackoff].
type RetryPolicy struct {
	Attempts   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, MinBackoff: 5 * time.Second, MaxBackoff: 60 * time.Second}
}

// Backoff returns the delay before retry number n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.MinBackoff
	for i := 1; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if d < p.MinBackoff {
		d = p.MinBackoff
	}
	return d
}

// RetryingCompiler re-runs a failed compilation from scratch. Permanent
// failures are returned immediately.
type RetryingCompiler struct {
	next   Runner
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

func NewRetryingCompiler(next Runner, policy RetryPolicy, logger *slog.Logger) *RetryingCompiler {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &RetryingCompiler{
		next:   next,
		policy: policy,
		sleep:  sleepContext,
		logger: logging.WithComponent(logger, "compiler"),
	}
}

func (r *RetryingCompiler) Run(ctx context.Context, projectID string) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		result, err := r.next.Run(ctx, projectID)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if project.IsPermanent(err) || attempt == r.policy.Attempts || ctx.Err() != nil {
			break
		}

		delay := r.policy.Backoff(attempt)
		r.logger.Warn("compilation failed, retrying",
			"project_id", projectID,
			"attempt", attempt,
			"retry_in_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
