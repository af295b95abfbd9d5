package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/emberline/stoker/hook"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// auditHook records every lifecycle event it receives.
type auditHook struct {
	events []string
	fail   bool
}

func (a *auditHook) Name() string { return "audit" }

func (a *auditHook) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	a.events = append(a.events, "enqueued")
	return a.maybeFail()
}

func (a *auditHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	a.events = append(a.events, "started")
	return a.maybeFail()
}

func (a *auditHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	a.events = append(a.events, "completed")
	return a.maybeFail()
}

func (a *auditHook) OnJobCanceled(_ context.Context, _ *job.Job) error {
	a.events = append(a.events, "canceled")
	return a.maybeFail()
}

func (a *auditHook) maybeFail() error {
	if a.fail {
		return errors.New("hook failure")
	}
	return nil
}

// startOnly implements only JobStarted.
type startOnly struct {
	started int
}

func (s *startOnly) Name() string                                  { return "start-only" }
func (s *startOnly) OnJobStarted(context.Context, *job.Job) error { s.started++; return nil }

func TestRegistry_DispatchesOnlyImplementedEvents(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	audit := &auditHook{}
	start := &startOnly{}
	reg.Register(audit)
	reg.Register(start)

	j := &job.Job{ID: id.NewTaskID(), Name: "t", State: job.StateQueued}
	ctx := context.Background()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, time.Second)
	reg.EmitJobFailed(ctx, j, errors.New("x")) // nobody listens; must not panic
	reg.EmitJobCanceled(ctx, j)

	want := []string{"enqueued", "started", "completed", "canceled"}
	if len(audit.events) != len(want) {
		t.Fatalf("audit events = %v, want %v", audit.events, want)
	}
	for i := range want {
		if audit.events[i] != want[i] {
			t.Fatalf("audit events = %v, want %v", audit.events, want)
		}
	}
	if start.started != 1 {
		t.Fatalf("start-only hook invoked %d times, want 1", start.started)
	}
}

func TestRegistry_HookErrorsDoNotPropagate(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	failing := &auditHook{fail: true}
	after := &startOnly{}
	reg.Register(failing)
	reg.Register(after)

	j := &job.Job{ID: id.NewTaskID(), State: job.StateRunning}
	reg.EmitJobStarted(context.Background(), j)

	// The failing hook must not prevent later hooks from running.
	if after.started != 1 {
		t.Fatal("hook error short-circuited dispatch")
	}
}

func TestRegistry_Hooks(t *testing.T) {
	reg := hook.NewRegistry(nil)
	reg.Register(&auditHook{})
	if got := len(reg.Hooks()); got != 1 {
		t.Fatalf("Hooks() returned %d entries, want 1", got)
	}
}
