package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/emberline/stoker/job"
)

// Logging returns middleware that logs task start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("task started",
			slog.String("task_name", j.Name),
			slog.String("task_id", j.ID.String()),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task failed",
				slog.String("task_name", j.Name),
				slog.String("task_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task finished",
				slog.String("task_name", j.Name),
				slog.String("task_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
