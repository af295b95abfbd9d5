package middleware

import (
	"context"
	"time"

	"github.com/emberline/stoker/job"
)

// Timeout returns middleware that enforces an execution deadline on
// every task it wraps. The deadline propagates through the context; a
// handler that honors its context returns context.DeadlineExceeded and
// the job is recorded as failed. A non-positive d disables the
// middleware.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
