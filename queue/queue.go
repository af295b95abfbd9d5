package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/backoff"
	"github.com/emberline/stoker/hook"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
	mw "github.com/emberline/stoker/middleware"
	"github.com/emberline/stoker/worker"
)

// restartReason is the diagnostic written to jobs the previous process
// left in flight.
const restartReason = "job interrupted by server restart before it could finish"

// Queue is the scheduler facade. Construct one per process with New,
// register handlers on its registry beforehand, then Start it.
type Queue struct {
	store    job.Store
	registry *job.Registry
	hooks    *hook.Registry
	logger   *slog.Logger
	cfg      stoker.Config

	mws            []mw.Middleware
	idle           backoff.Strategy
	keepUnfinished bool

	pool *worker.Pool

	mu      sync.Mutex
	started bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the structured logger for the queue and everything
// it builds.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithConfig replaces the default tuning configuration.
func WithConfig(cfg stoker.Config) Option {
	return func(q *Queue) { q.cfg = cfg }
}

// WithHooks registers lifecycle hooks.
func WithHooks(hooks ...hook.Hook) Option {
	return func(q *Queue) {
		for _, h := range hooks {
			q.hooks.Register(h)
		}
	}
}

// WithMiddleware appends middleware to the execution chain, after the
// built-in tracing, metrics, and logging layers.
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(q *Queue) { q.mws = append(q.mws, mws...) }
}

// WithIdleBackoff sets the pacing strategy workers use when the queue
// is empty.
func WithIdleBackoff(s backoff.Strategy) Option {
	return func(q *Queue) { q.idle = s }
}

// WithKeepUnfinished disables restart recovery: jobs left SCHEDULED,
// QUEUED, RUNNING, or CANCELING by the previous process stay as they
// are instead of being failed at Start. Queued jobs will then be
// claimed and run again, which is only safe when every handler is
// idempotent.
func WithKeepUnfinished() Option {
	return func(q *Queue) { q.keepUnfinished = true }
}

// New creates a queue over the given store and handler registry.
func New(store job.Store, registry *job.Registry, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
		cfg:      stoker.DefaultConfig(),
	}
	q.hooks = hook.NewRegistry(q.logger)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Hooks returns the queue's hook registry.
func (q *Queue) Hooks() *hook.Registry { return q.hooks }

// Registry returns the queue's handler registry.
func (q *Queue) Registry() *job.Registry { return q.registry }

// Store returns the queue's backing store.
func (q *Queue) Store() job.Store { return q.store }

// Start migrates the store, settles jobs interrupted by the previous
// process, and launches the worker pool.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return nil
	}
	if q.store == nil {
		return stoker.ErrNoStore
	}

	if err := q.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	if !q.keepUnfinished {
		settled, err := q.store.FailUnfinished(ctx, restartReason)
		if err != nil {
			return fmt.Errorf("settle unfinished jobs: %w", err)
		}
		if settled > 0 {
			q.logger.Warn("settled jobs left unfinished by previous process",
				slog.Int64("count", settled),
			)
		}
	}

	idle := q.idle
	if idle == nil {
		idle = backoff.NewExponentialWithJitter(q.cfg.PollInterval, 10*q.cfg.PollInterval)
	}

	chain := append([]mw.Middleware{
		mw.Tracing(),
		mw.Metrics(),
		mw.Logging(q.logger),
	}, q.mws...)

	executor := worker.NewExecutor(q.registry, q.hooks, q.store, q.logger, chain...)
	q.pool = worker.NewPool(q.store, executor, q.hooks, q.logger,
		worker.WithPoolConcurrency(q.cfg.Concurrency),
		worker.WithIdleBackoff(idle),
		worker.WithCancelPollInterval(q.cfg.PollInterval),
		worker.WithProgressWriteLimit(q.cfg.ProgressWriteRate, q.cfg.ProgressWriteBurst),
	)

	if err := q.pool.Start(ctx); err != nil {
		return err
	}
	q.started = true

	q.logger.Info("queue started",
		slog.String("worker_id", q.pool.WorkerID().String()),
		slog.Int("concurrency", q.cfg.Concurrency),
	)
	return nil
}

// Stop drains the worker pool. In-flight jobs get ShutdownTimeout to
// finish; after that the cooperative cancel flag is raised and Stop
// waits for them to unwind.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return nil
	}
	q.started = false

	if q.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.ShutdownTimeout)
		defer cancel()
	}
	return q.pool.Stop(ctx)
}

// Enqueue validates the task name against the registry, persists a new
// job record, and promotes it into the queue. It returns as soon as the
// record is durable; execution happens asynchronously. The payload is
// JSON-serialized so the record survives a restart.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts ...job.Option) (id.TaskID, error) {
	if !q.registry.Has(name) {
		return id.TaskID{}, fmt.Errorf("%w: %q", stoker.ErrInvalidFunction, name)
	}

	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return id.TaskID{}, fmt.Errorf("marshal payload for task %q: %w", name, err)
		}
	}

	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	j := &job.Job{
		Entity:        stoker.NewEntity(),
		ID:            id.NewTaskID(),
		Name:          name,
		Payload:       data,
		State:         job.StateScheduled,
		Cancellable:   jobOpts.Cancellable,
		TrackProgress: jobOpts.TrackProgress,
		Metadata:      jobOpts.Metadata,
		EnqueuedAt:    time.Now().UTC(),
	}

	if err := q.store.CreateJob(ctx, j); err != nil {
		return id.TaskID{}, err
	}

	// The record is durable before it becomes claimable, so a crash
	// between the two writes loses no work silently: recovery settles
	// the SCHEDULED leftover.
	promoted, err := q.store.TransitionJob(ctx, j.ID, []job.State{job.StateScheduled}, job.StateQueued)
	if err != nil {
		return id.TaskID{}, fmt.Errorf("promote task %s to queue: %w", j.ID, err)
	}

	q.logger.Info("task enqueued",
		slog.String("task_id", j.ID.String()),
		slog.String("task_name", name),
	)
	q.hooks.EmitJobEnqueued(ctx, promoted)
	return j.ID, nil
}

// FetchJob returns the current record for one task. Returns
// stoker.ErrJobNotFound when the id is unknown or already cleared.
func (q *Queue) FetchJob(ctx context.Context, taskID id.TaskID) (*job.Job, error) {
	return q.store.GetJob(ctx, taskID)
}

// Jobs returns a snapshot of all task records in enqueue order.
func (q *Queue) Jobs(ctx context.Context) ([]*job.Job, error) {
	return q.store.ListJobs(ctx)
}

// Cancel requests cancellation of a task. Jobs not yet running are
// canceled synchronously; a running job moves to CANCELING and unwinds
// at its next cooperative checkpoint. Cancellation is advisory, never
// preemptive: a body that never checks runs to completion. Terminal and
// non-cancellable jobs are left untouched. Returns
// stoker.ErrJobNotFound for unknown ids.
func (q *Queue) Cancel(ctx context.Context, taskID id.TaskID) error {
	for {
		j, err := q.store.GetJob(ctx, taskID)
		if err != nil {
			return err
		}

		switch {
		case j.State.Terminal():
			return nil

		case !j.Cancellable:
			return nil

		case j.State == job.StateScheduled || j.State == job.StateQueued:
			canceled, err := q.store.TransitionJob(ctx, taskID,
				[]job.State{job.StateScheduled, job.StateQueued}, job.StateCanceled)
			if err != nil {
				// Lost the race against a claim; re-read and cancel the
				// now-running job instead.
				if isInvalidState(err) {
					continue
				}
				return err
			}
			q.logger.Info("task canceled before execution", slog.String("task_id", taskID.String()))
			q.hooks.EmitJobCanceled(ctx, canceled)
			return nil

		case j.State == job.StateRunning:
			if _, err := q.store.TransitionJob(ctx, taskID,
				[]job.State{job.StateRunning}, job.StateCanceling); err != nil {
				// Finished or settled in the meantime; re-read.
				if isInvalidState(err) {
					continue
				}
				return err
			}
			q.deliverCancel(taskID)
			q.logger.Info("cancel requested for running task", slog.String("task_id", taskID.String()))
			return nil

		case j.State == job.StateCanceling:
			// Already requested; make sure the local flag is raised.
			q.deliverCancel(taskID)
			return nil

		default:
			return nil
		}
	}
}

// ClearJob removes one finished task record. A non-terminal job is left
// intact: jobs are never forcibly killed through the clear surface.
// Returns stoker.ErrJobNotFound for unknown ids.
func (q *Queue) ClearJob(ctx context.Context, taskID id.TaskID) error {
	err := q.store.PruneJob(ctx, taskID)
	if isNotDone(err) {
		return nil
	}
	return err
}

// Clear removes every finished task record and reports how many were
// removed.
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	return q.store.PruneJobs(ctx)
}

// Empty cancels every non-terminal task, semantically equivalent to
// calling Cancel on each. Used for full-queue shutdown or reset.
func (q *Queue) Empty(ctx context.Context) error {
	jobs, err := q.store.ListJobs(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		if j.State.Terminal() {
			continue
		}
		g.Go(func() error {
			if err := q.Cancel(ctx, j.ID); err != nil && !isNotFound(err) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// deliverCancel raises the in-process cancel flag when this queue's
// pool is executing the task. When it isn't (another process claimed
// the job), the owning pool picks the CANCELING state up from the
// store.
func (q *Queue) deliverCancel(taskID id.TaskID) {
	q.mu.Lock()
	pool := q.pool
	q.mu.Unlock()
	if pool != nil {
		pool.RequestCancel(taskID)
	}
}

func isInvalidState(err error) bool { return errors.Is(err, stoker.ErrInvalidState) }
func isNotDone(err error) bool      { return errors.Is(err, stoker.ErrJobNotDone) }
func isNotFound(err error) bool     { return errors.Is(err, stoker.ErrJobNotFound) }
