// Package hook defines lifecycle hooks for the scheduler. Hooks are
// notified of job events (enqueued, started, finished, canceled) and
// can react to them for auditing, cache invalidation, or notification
// fan-out.
//
// Each lifecycle event is a separate interface so a hook opts in only
// to the events it cares about.
package hook

import (
	"context"
	"time"

	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobEnqueued is called after a job is accepted into the queue.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called when a running job reports progress. fraction
// is in [0, 1].
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, fraction float64) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCanceled is called when a job reaches the CANCELED state, whether
// it was canceled before starting or unwound cooperatively mid-run.
type JobCanceled interface {
	OnJobCanceled(ctx context.Context, j *job.Job) error
}

// ScheduleFired is called when a recurring schedule enqueues a job.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, scheduleID id.ScheduleID, taskID id.TaskID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
