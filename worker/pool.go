package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emberline/stoker/backoff"
	"github.com/emberline/stoker/hook"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// Pool manages a set of concurrent worker slots that claim queued jobs
// from the store and execute them through the Executor. The pool is
// also the cancellation delivery point: it keeps the Run of every
// active job so a cancel request can raise the cooperative flag.
type Pool struct {
	store    job.Store
	executor *Executor
	hooks    *hook.Registry
	logger   *slog.Logger

	concurrency int
	workerID    id.WorkerID
	idle        backoff.Strategy

	// cancelPoll is how often active jobs are checked for a CANCELING
	// state written by another process. Zero disables the watcher.
	cancelPoll time.Duration

	progressRate  float64
	progressBurst int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]*job.Run
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker slots.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithIdleBackoff sets the pacing strategy for empty claim rounds.
func WithIdleBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.idle = s }
}

// WithCancelPollInterval sets how often active jobs are checked for
// cancel requests written by other processes. Zero disables the check;
// in-process cancel delivery is unaffected.
func WithCancelPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.cancelPoll = d }
}

// WithProgressWriteLimit caps persisted progress updates per run at
// rate per second with the given burst.
func WithProgressWriteLimit(rate float64, burst int) PoolOption {
	return func(p *Pool) {
		p.progressRate = rate
		p.progressBurst = burst
	}
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:       store,
		executor:    executor,
		hooks:       hooks,
		logger:      logger,
		concurrency: 4,
		workerID:    id.NewWorkerID(),
		idle:        backoff.Default(),
		cancelPoll:  time.Second,
		active:      make(map[string]*job.Run),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker slots. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	// A fresh channel per start so a stopped pool can be started again.
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop(stopCh)
	}

	if p.cancelPoll > 0 {
		p.wg.Add(1)
		go p.watchCancelLoop(stopCh)
	}

	return nil
}

// Stop signals all workers to stop and waits for active jobs to
// finish. When the context deadline expires first, the cooperative
// cancel flag is raised on every active run and Stop keeps waiting:
// jobs are never killed mid-write, they unwind at their next
// checkpoint.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh := p.stopCh
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown deadline reached, requesting cancel of active jobs")
		p.cancelActive()
		p.wg.Wait()
	}

	p.hooks.EmitShutdown(context.Background())
	return nil
}

// RequestCancel raises the cooperative cancel flag on the run executing
// taskID, if this pool holds it. Reports whether the job was active
// here; a false return means the job belongs to another process or
// already finished.
func (p *Pool) RequestCancel(taskID id.TaskID) bool {
	p.activeMu.Lock()
	run, ok := p.active[taskID.String()]
	p.activeMu.Unlock()
	if ok {
		run.Cancel()
	}
	return ok
}

// Active returns the number of jobs currently executing in this pool.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// claimLoop is run by each worker slot.
func (p *Pool) claimLoop(stopCh <-chan struct{}) {
	defer p.wg.Done()

	idle := 0
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		jobs, err := p.store.ClaimJobs(context.Background(), p.workerID, 1)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			idle++
			p.sleep(idle, stopCh)
			continue
		}

		if len(jobs) == 0 {
			idle++
			p.sleep(idle, stopCh)
			continue
		}
		idle = 0

		p.execute(jobs[0])
	}
}

func (p *Pool) execute(j *job.Job) {
	ctx := context.Background()

	run := job.NewRun(j, p.store,
		job.WithRunLogger(p.logger),
		job.WithProgressWriteLimit(p.progressRate, p.progressBurst),
		job.WithProgressFunc(func(ctx context.Context, j *job.Job, fraction float64) {
			p.hooks.EmitJobProgress(ctx, j, fraction)
		}),
	)

	p.track(run)
	defer p.untrack(run)

	p.hooks.EmitJobStarted(ctx, j)

	if err := p.executor.Execute(ctx, run); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("task_id", j.ID.String()),
			slog.String("task_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
}

// watchCancelLoop periodically re-reads active jobs so cancel requests
// recorded by other processes (the store shows CANCELING) reach the
// local cooperative flag.
func (p *Pool) watchCancelLoop(stopCh <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.deliverRemoteCancels()
		}
	}
}

func (p *Pool) deliverRemoteCancels() {
	p.activeMu.Lock()
	runs := make([]*job.Run, 0, len(p.active))
	for _, run := range p.active {
		runs = append(runs, run)
	}
	p.activeMu.Unlock()

	for _, run := range runs {
		if run.CheckCancel() != nil {
			continue // already flagged
		}
		current, err := p.store.GetJob(context.Background(), run.TaskID())
		if err != nil {
			continue
		}
		if current.State == job.StateCanceling {
			run.Cancel()
		}
	}
}

func (p *Pool) sleep(idle int, stopCh <-chan struct{}) {
	select {
	case <-time.After(p.idle.Delay(idle)):
	case <-stopCh:
	}
}

func (p *Pool) track(run *job.Run) {
	p.activeMu.Lock()
	p.active[run.TaskID().String()] = run
	p.activeMu.Unlock()
}

func (p *Pool) untrack(run *job.Run) {
	p.activeMu.Lock()
	delete(p.active, run.TaskID().String())
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, run := range p.active {
		p.logger.Warn("requesting cancel of active job", slog.String("task_id", taskID))
		run.Cancel()
	}
}
