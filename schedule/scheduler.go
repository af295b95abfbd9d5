// Package schedule enqueues registered tasks on a recurring cron
// schedule. Entries are held in process memory and evaluated by a tick
// loop; the enqueued jobs themselves go through the normal queue and
// are persisted like any other.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

var (
	ErrEntryExists   = errors.New("stoker/schedule: entry already registered")
	ErrEntryNotFound = errors.New("stoker/schedule: entry not found")
)

// Enqueuer is the callback the scheduler fires entries through.
// queue.Queue satisfies it; the interface breaks the import cycle.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...job.Option) (id.TaskID, error)
}

// Emitter emits schedule lifecycle events.
// hook.Registry satisfies this interface via EmitScheduleFired.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, scheduleID id.ScheduleID, taskID id.TaskID)
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// entryState pairs an entry with its parsed cron schedule.
type entryState struct {
	entry *Entry
	sched cronlib.Schedule
}

// Scheduler evaluates registered entries on a tick loop and enqueues
// the bound task whenever an entry comes due.
type Scheduler struct {
	enqueuer Enqueuer
	emitter  Emitter
	logger   *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entryState

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a Scheduler firing entries through the given
// enqueuer.
func NewScheduler(enqueuer Enqueuer, opts ...Option) *Scheduler {
	s := &Scheduler{
		enqueuer:     enqueuer,
		logger:       slog.Default(),
		tickInterval: 1 * time.Second,
		entries:      make(map[string]*entryState),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a recurring entry. The task name must refer to a
// handler registered on the queue; payload and options are passed to
// every enqueue the entry fires.
func (s *Scheduler) Register(name, expr, taskName string, payload any, opts ...job.Option) (id.ScheduleID, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return id.Nil, fmt.Errorf("stoker/schedule: parse %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return id.Nil, fmt.Errorf("%w: %q", ErrEntryExists, name)
	}

	next := sched.Next(time.Now().UTC())
	entry := &Entry{
		ID:        id.NewScheduleID(),
		Name:      name,
		Schedule:  expr,
		TaskName:  taskName,
		Payload:   payload,
		Enabled:   true,
		NextRunAt: &next,
		Options:   opts,
	}
	s.entries[name] = &entryState{entry: entry, sched: sched}

	s.logger.Info("schedule entry registered",
		slog.String("schedule_id", entry.ID.String()),
		slog.String("name", name),
		slog.String("task_name", taskName),
		slog.String("schedule", expr))
	return entry.ID, nil
}

// Unregister removes an entry by name.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; !ok {
		return fmt.Errorf("%w: %q", ErrEntryNotFound, name)
	}
	delete(s.entries, name)
	return nil
}

// SetEnabled pauses or resumes an entry without losing its schedule.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEntryNotFound, name)
	}
	st.entry.Enabled = enabled
	if enabled {
		next := st.sched.Next(time.Now().UTC())
		st.entry.NextRunAt = &next
	}
	return nil
}

// Entries returns a snapshot of all registered entries.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, st := range s.entries {
		out = append(out, *st.entry)
	}
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the tick loop to stop and waits for it to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*entryState, 0, len(s.entries))
	for _, st := range s.entries {
		if !st.entry.Enabled {
			continue
		}
		if st.entry.NextRunAt == nil || st.entry.NextRunAt.After(now) {
			continue
		}
		due = append(due, st)
	}
	s.mu.Unlock()

	for _, st := range due {
		s.fire(st, now)
	}
}

// fire enqueues one due entry and advances its schedule. The next run
// is computed from now, not from the missed slot, so a stalled process
// fires a late entry once instead of replaying the backlog.
func (s *Scheduler) fire(st *entryState, now time.Time) {
	ctx := context.Background()
	entry := st.entry

	taskID, err := s.enqueuer.Enqueue(ctx, entry.TaskName, entry.Payload, entry.Options...)

	s.mu.Lock()
	next := st.sched.Next(now)
	entry.NextRunAt = &next
	if err == nil {
		fired := now
		entry.LastRunAt = &fired
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("schedule enqueue failed",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("name", entry.Name),
			slog.String("task_name", entry.TaskName),
			slog.String("error", err.Error()))
		return
	}

	s.logger.Info("schedule fired",
		slog.String("schedule_id", entry.ID.String()),
		slog.String("name", entry.Name),
		slog.String("task_id", taskID.String()))
	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, entry.ID, taskID)
	}
}
