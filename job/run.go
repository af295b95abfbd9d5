package job

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
)

// ProgressFunc observes progress reports for a running job.
type ProgressFunc func(ctx context.Context, j *Job, fraction float64)

// Run is the execution context injected into every handler. It is the
// cooperative contract between the scheduler and arbitrary work: the job
// body reports fractional progress through UpdateProgress and polls
// CheckCancel at safe checkpoints between non-atomic side effects, so a
// cancel request lands at a consistent boundary rather than mid-write.
//
// A Run belongs to exactly one job execution and is safe for concurrent
// use, so a handler may fan work out to goroutines that share it.
type Run struct {
	job    *Job
	store  Store
	logger *slog.Logger

	// limiter paces progress persistence; the in-memory fraction is
	// always current and the final value is flushed at finalization.
	limiter    *rate.Limiter
	onProgress ProgressFunc

	mu       sync.Mutex
	progress float64
	canceled atomic.Bool
}

// RunOption configures a Run.
type RunOption func(*Run)

// WithProgressWriteLimit caps persisted progress updates at r per second
// with the given burst. Zero rate disables throttling.
func WithProgressWriteLimit(r float64, burst int) RunOption {
	return func(run *Run) {
		if r <= 0 {
			run.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		run.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithRunLogger sets the logger progress write failures are reported to.
func WithRunLogger(l *slog.Logger) RunOption {
	return func(run *Run) { run.logger = l }
}

// WithProgressFunc installs an observer invoked on every accepted
// progress report.
func WithProgressFunc(fn ProgressFunc) RunOption {
	return func(run *Run) { run.onProgress = fn }
}

// NewRun creates the execution context for one job.
func NewRun(j *Job, store Store, opts ...RunOption) *Run {
	r := &Run{
		job:      j,
		store:    store,
		logger:   slog.Default(),
		progress: j.Progress,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TaskID returns the ID of the job this run executes.
func (r *Run) TaskID() id.TaskID { return r.job.ID }

// Job returns the job record this run executes.
func (r *Run) Job() *Job { return r.job }

// Metadata returns the caller-supplied metadata of the job.
func (r *Run) Metadata() map[string]any { return r.job.Metadata }

// UpdateProgress records that fraction of the work is done. The value is
// clamped to [0, 1] and never moves backwards. It is a no-op when the
// job was enqueued without progress tracking; persistence failures are
// logged, never surfaced, since progress is advisory.
func (r *Run) UpdateProgress(ctx context.Context, fraction float64) {
	if !r.job.TrackProgress {
		return
	}

	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	r.mu.Lock()
	if fraction <= r.progress {
		r.mu.Unlock()
		return
	}
	r.progress = fraction
	flush := r.limiter == nil || r.limiter.Allow()
	r.mu.Unlock()

	if flush {
		if err := r.store.UpdateProgress(ctx, r.job.ID, fraction); err != nil {
			r.logger.Warn("progress write failed",
				slog.String("task_id", r.job.ID.String()),
				slog.Float64("progress", fraction),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.onProgress != nil {
		r.onProgress(ctx, r.job, fraction)
	}
}

// CheckCancel returns stoker.ErrTaskCanceled once cancellation has been
// requested, and nil otherwise. Handlers return the error to unwind; a
// handler that never calls CheckCancel simply runs to completion.
func (r *Run) CheckCancel() error {
	if r.canceled.Load() {
		return stoker.ErrTaskCanceled
	}
	return nil
}

// Cancel raises the advisory cancel flag. Called by the worker pool when
// an external cancel request targets this run; the flag is sticky.
func (r *Run) Cancel() {
	r.canceled.Store(true)
}

// Progress returns the latest reported fraction.
func (r *Run) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}
