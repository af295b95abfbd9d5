// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and settles the
// terminal state, and a Pool that manages concurrent worker slots
// claiming queued jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/hook"
	"github.com/emberline/stoker/job"
	"github.com/emberline/stoker/middleware"
)

// PanicError wraps a panic recovered from a job body so the panic value
// and its stack reach the job record instead of killing the process.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Executor runs a single job through middleware and the registered
// handler, then applies the terminal write and emits lifecycle events.
type Executor struct {
	registry *job.Registry
	hooks    *hook.Registry
	store    job.Store
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs one claimed job to its terminal state.
// A nil handler error completes the job; stoker.ErrTaskCanceled cancels
// it; anything else, panics included, fails it with diagnostics. The
// terminal write goes through the store's finalize CAS, so a job that
// raced to a terminal state elsewhere is never overwritten.
func (e *Executor) Execute(ctx context.Context, run *job.Run) error {
	j := run.Job()

	handler, ok := e.registry.Get(j.Name)
	if !ok {
		// A restarted process can claim jobs whose handler is no longer
		// registered. Fail them rather than leaving them RUNNING.
		err := fmt.Errorf("%w: %q", stoker.ErrInvalidFunction, j.Name)
		e.finalize(ctx, run, job.Finalization{
			State:     job.StateFailed,
			Exception: err.Error(),
		})
		e.hooks.EmitJobFailed(ctx, j, err)
		return err
	}

	start := time.Now()
	terminal := func(ctx context.Context) error {
		return e.safeRun(ctx, handler, run)
	}
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		fin := job.Finalization{State: job.StateCompleted}
		if j.TrackProgress {
			done := 1.0
			fin.Progress = &done
		}
		e.finalize(ctx, run, fin)
		e.hooks.EmitJobCompleted(ctx, j, elapsed)
		return nil

	case errors.Is(err, stoker.ErrTaskCanceled):
		e.finalize(ctx, run, job.Finalization{
			State:    job.StateCanceled,
			Progress: lastProgress(run),
		})
		e.hooks.EmitJobCanceled(ctx, j)
		return nil

	default:
		var pe *PanicError
		fin := job.Finalization{
			State:     job.StateFailed,
			Exception: err.Error(),
			Progress:  lastProgress(run),
		}
		if errors.As(err, &pe) {
			fin.Exception = pe.Error()
			fin.Traceback = string(pe.Stack)
		} else {
			fin.Traceback = errorChain(err)
		}
		e.finalize(ctx, run, fin)
		e.hooks.EmitJobFailed(ctx, j, err)
		return err
	}
}

// safeRun invokes the handler with panic isolation. A panicking job
// body takes down its own job, never the worker slot.
func (e *Executor) safeRun(ctx context.Context, handler job.HandlerFunc, run *job.Run) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return handler(ctx, run, run.Job().Payload)
}

func (e *Executor) finalize(ctx context.Context, run *job.Run, fin job.Finalization) {
	updated, err := e.store.FinalizeJob(ctx, run.TaskID(), fin)
	if err != nil {
		// ErrInvalidState means something else already settled the job
		// (a queued-then-canceled race); that outcome stands.
		if errors.Is(err, stoker.ErrInvalidState) {
			e.logger.Debug("job already finalized",
				slog.String("task_id", run.TaskID().String()),
				slog.String("attempted_state", string(fin.State)),
			)
			return
		}
		e.logger.Error("terminal write failed",
			slog.String("task_id", run.TaskID().String()),
			slog.String("state", string(fin.State)),
			slog.String("error", err.Error()),
		)
		return
	}
	*run.Job() = *updated
}

// lastProgress returns the run's final fraction for persisting on
// failed and canceled records, or nil when nothing was reported.
func lastProgress(run *job.Run) *float64 {
	if !run.Job().TrackProgress {
		return nil
	}
	p := run.Progress()
	if p == 0 {
		return nil
	}
	return &p
}

// errorChain renders an error and its wrap chain one frame per line,
// outermost first.
func errorChain(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}
