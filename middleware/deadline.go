package middleware

import (
	"context"
	"log/slog"

	"github.com/taskfair/taskfair/job"
)

// Deadline returns middleware that bounds execution by the job's lease
// deadline. Once the lease would expire the context is cancelled, so a
// worker does not keep computing on a claim it has already lost.
func Deadline(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		if j.Deadline != nil {
			logger.Debug("lease deadline set",
				slog.String("job_id", j.ID.String()),
				slog.Time("deadline", *j.Deadline),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, *j.Deadline)
			defer cancel()
		}
		return next(ctx)
	}
}
