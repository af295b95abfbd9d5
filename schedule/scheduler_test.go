package schedule_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
	"github.com/emberline/stoker/schedule"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, name string, _ any, _ ...job.Option) (id.TaskID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return id.Nil, errors.New("store unavailable")
	}
	r.calls = append(r.calls, name)
	return id.NewTaskID(), nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingEmitter struct {
	mu    sync.Mutex
	fired []id.ScheduleID
}

func (r *recordingEmitter) EmitScheduleFired(_ context.Context, scheduleID id.ScheduleID, _ id.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, scheduleID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_FiresDueEntries(t *testing.T) {
	enq := &recordingEnqueuer{}
	emitter := &recordingEmitter{}
	s := schedule.NewScheduler(enq,
		schedule.WithTickInterval(5*time.Millisecond),
		schedule.WithEmitter(emitter),
		schedule.WithLogger(discardLogger()))

	scheduleID, err := s.Register("sync-loop", "@every 10ms", "channel-sync", nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, func() bool { return enq.count() >= 2 })

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.fired) == 0 || emitter.fired[0] != scheduleID {
		t.Fatalf("emitter fired = %v, want %s", emitter.fired, scheduleID)
	}

	entries := s.Entries()
	if len(entries) != 1 || entries[0].LastRunAt == nil {
		t.Fatalf("entry not stamped after firing: %+v", entries)
	}
}

func TestScheduler_DisabledEntryDoesNotFire(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := schedule.NewScheduler(enq,
		schedule.WithTickInterval(5*time.Millisecond),
		schedule.WithLogger(discardLogger()))

	if _, err := s.Register("sync-loop", "@every 10ms", "channel-sync", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEnabled("sync-loop", false); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if enq.count() != 0 {
		t.Fatalf("disabled entry fired %d times", enq.count())
	}
}

func TestScheduler_EnqueueFailureKeepsEntryAlive(t *testing.T) {
	enq := &recordingEnqueuer{fail: true}
	s := schedule.NewScheduler(enq,
		schedule.WithTickInterval(5*time.Millisecond),
		schedule.WithLogger(discardLogger()))

	if _, err := s.Register("sync-loop", "@every 10ms", "channel-sync", nil); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(ctx) //nolint:errcheck

	time.Sleep(50 * time.Millisecond)

	// Failures advance the schedule but never stamp a run.
	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].LastRunAt != nil {
		t.Fatal("failed fire stamped LastRunAt")
	}

	enq.mu.Lock()
	enq.fail = false
	enq.mu.Unlock()
	waitFor(t, 2*time.Second, func() bool { return enq.count() >= 1 })
}

func TestScheduler_Register(t *testing.T) {
	s := schedule.NewScheduler(&recordingEnqueuer{}, schedule.WithLogger(discardLogger()))

	if _, err := s.Register("nightly", "0 3 * * *", "channel-export", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Register("nightly", "0 4 * * *", "channel-export", nil); !errors.Is(err, schedule.ErrEntryExists) {
		t.Fatalf("duplicate register = %v, want ErrEntryExists", err)
	}
	if _, err := s.Register("broken", "not a cron expr", "channel-export", nil); err == nil {
		t.Fatal("malformed expression accepted")
	}

	if err := s.Unregister("nightly"); err != nil {
		t.Fatal(err)
	}
	if err := s.Unregister("nightly"); !errors.Is(err, schedule.ErrEntryNotFound) {
		t.Fatalf("second unregister = %v, want ErrEntryNotFound", err)
	}
	if err := s.SetEnabled("nightly", true); !errors.Is(err, schedule.ErrEntryNotFound) {
		t.Fatalf("enable missing = %v, want ErrEntryNotFound", err)
	}
}
