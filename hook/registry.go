package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// Named entry types pair a hook implementation with the name captured
// at registration time. This avoids type-asserting back to Hook inside
// the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobProgressEntry struct {
	name string
	hook JobProgress
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobCanceledEntry struct {
	name string
	hook JobCanceled
}

type scheduleFiredEntry struct {
	name string
	hook ScheduleFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event. Hook errors are
// logged and never propagate into job execution.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	jobEnqueued   []jobEnqueuedEntry
	jobStarted    []jobStartedEntry
	jobProgress   []jobProgressEntry
	jobCompleted  []jobCompletedEntry
	jobFailed     []jobFailedEntry
	jobCanceled   []jobCanceledEntry
	scheduleFired []scheduleFiredEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if e, ok := h.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, e})
	}
	if e, ok := h.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, e})
	}
	if e, ok := h.(JobProgress); ok {
		r.jobProgress = append(r.jobProgress, jobProgressEntry{name, e})
	}
	if e, ok := h.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, e})
	}
	if e, ok := h.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, e})
	}
	if e, ok := h.(JobCanceled); ok {
		r.jobCanceled = append(r.jobCanceled, jobCanceledEntry{name, e})
	}
	if e, ok := h.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, scheduleFiredEntry{name, e})
	}
	if e, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, e})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitJobEnqueued notifies all hooks that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all hooks that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobProgress notifies all hooks that implement JobProgress.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, fraction float64) {
	for _, e := range r.jobProgress {
		if err := e.hook.OnJobProgress(ctx, j, fraction); err != nil {
			r.logHookError("OnJobProgress", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all hooks that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobCanceled notifies all hooks that implement JobCanceled.
func (r *Registry) EmitJobCanceled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCanceled {
		if err := e.hook.OnJobCanceled(ctx, j); err != nil {
			r.logHookError("OnJobCanceled", e.name, err)
		}
	}
}

// EmitScheduleFired notifies all hooks that implement ScheduleFired.
func (r *Registry) EmitScheduleFired(ctx context.Context, scheduleID id.ScheduleID, taskID id.TaskID) {
	for _, e := range r.scheduleFired {
		if err := e.hook.OnScheduleFired(ctx, scheduleID, taskID); err != nil {
			r.logHookError("OnScheduleFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

func (r *Registry) logHookError(event, name string, err error) {
	r.logger.Error("hook returned error",
		slog.String("event", event),
		slog.String("hook", name),
		slog.String("error", err.Error()),
	)
}
