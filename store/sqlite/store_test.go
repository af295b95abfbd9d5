package sqlitestore_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
	sqlitestore "github.com/emberline/stoker/store/sqlite"
)

func setupStore(t *testing.T) *sqlitestore.Store {
	t.Helper()

	// A per-test named in-memory database; cache=shared keeps it alive
	// across the pool's connections without leaking between tests.
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqldb.Close() })

	db := bun.NewDB(sqldb, sqlitedialect.New())
	s := sqlitestore.New(db, sqlitestore.WithLogger(slog.New(slog.DiscardHandler)))
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newJob(state job.State) *job.Job {
	return &job.Job{
		Entity:     stoker.NewEntity(),
		ID:         id.NewTaskID(),
		Name:       "test-task",
		State:      state,
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := newJob(job.StateQueued)
	j.Payload = []byte(`{"channel_id":"ch-1"}`)
	j.Cancellable = true
	j.TrackProgress = true
	j.Metadata = map[string]any{"type": "REMOTEIMPORT", "started_by": "admin"}

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != j.ID || got.Name != j.Name || got.State != job.StateQueued {
		t.Fatalf("got %+v", got)
	}
	if !got.Cancellable || !got.TrackProgress {
		t.Fatal("flags lost in round trip")
	}
	if string(got.Payload) != `{"channel_id":"ch-1"}` {
		t.Fatalf("payload = %q", got.Payload)
	}
	if got.Metadata["type"] != "REMOTEIMPORT" {
		t.Fatalf("metadata = %v", got.Metadata)
	}

	if err := s.CreateJob(ctx, j); !errors.Is(err, stoker.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create = %v, want ErrJobAlreadyExists", err)
	}
}

func TestStore_GetJobNotFound(t *testing.T) {
	s := setupStore(t)
	if _, err := s.GetJob(context.Background(), id.NewTaskID()); !errors.Is(err, stoker.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestStore_ClaimJobs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	oldest := newJob(job.StateQueued)
	oldest.EnqueuedAt = time.Now().UTC().Add(-time.Minute)
	if err := s.CreateJob(ctx, oldest); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, newJob(job.StateQueued)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, newJob(job.StateScheduled)); err != nil {
		t.Fatal(err)
	}

	wid := id.NewWorkerID()
	claimed, err := s.ClaimJobs(ctx, wid, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].ID != oldest.ID {
		t.Fatalf("claimed = %v, want the oldest queued job", claimed)
	}
	if claimed[0].State != job.StateRunning || claimed[0].WorkerID != wid || claimed[0].StartedAt == nil {
		t.Fatalf("claim did not stamp the record: %+v", claimed[0])
	}

	// One queued job left; the SCHEDULED one is not claimable.
	claimed, err = s.ClaimJobs(ctx, wid, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("second claim returned %d jobs, want 1", len(claimed))
	}
}

func TestStore_TransitionJob(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := newJob(job.StateScheduled)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	got, err := s.TransitionJob(ctx, j.ID, []job.State{job.StateScheduled}, job.StateQueued)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateQueued {
		t.Fatalf("state = %s", got.State)
	}

	if _, err := s.TransitionJob(ctx, j.ID, []job.State{job.StateScheduled}, job.StateQueued); !errors.Is(err, stoker.ErrInvalidState) {
		t.Fatalf("stale CAS = %v, want ErrInvalidState", err)
	}
	if _, err := s.TransitionJob(ctx, id.NewTaskID(), []job.State{job.StateQueued}, job.StateCanceled); !errors.Is(err, stoker.ErrJobNotFound) {
		t.Fatalf("missing job = %v, want ErrJobNotFound", err)
	}

	got, err = s.TransitionJob(ctx, j.ID, []job.State{job.StateQueued}, job.StateCanceled)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil {
		t.Fatal("terminal transition did not stamp CompletedAt")
	}
}

func TestStore_FinalizeJob(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := newJob(job.StateRunning)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	p := 0.7
	got, err := s.FinalizeJob(ctx, j.ID, job.Finalization{
		State: job.StateFailed, Exception: "boom", Traceback: "trace", Progress: &p,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateFailed || got.Exception != "boom" || got.Progress != 0.7 {
		t.Fatalf("got %+v", got)
	}

	if _, err := s.FinalizeJob(ctx, j.ID, job.Finalization{State: job.StateCompleted}); !errors.Is(err, stoker.ErrInvalidState) {
		t.Fatalf("second finalize = %v, want ErrInvalidState", err)
	}
}

func TestStore_FinalizeJob_NilProgressKeepsStored(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := newJob(job.StateRunning)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProgress(ctx, j.ID, 0.4); err != nil {
		t.Fatal(err)
	}

	got, err := s.FinalizeJob(ctx, j.ID, job.Finalization{State: job.StateCanceled})
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress != 0.4 {
		t.Fatalf("progress = %v, want stored 0.4 kept", got.Progress)
	}
}

func TestStore_UpdateProgress(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	done := newJob(job.StateCompleted)
	if err := s.CreateJob(ctx, done); err != nil {
		t.Fatal(err)
	}

	// Discarded on a settled job, not an error.
	if err := s.UpdateProgress(ctx, done.ID, 0.9); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, done.ID)
	if got.Progress != 0 {
		t.Fatal("progress written to a terminal job")
	}

	if err := s.UpdateProgress(ctx, id.NewTaskID(), 0.5); !errors.Is(err, stoker.ErrJobNotFound) {
		t.Fatalf("missing job = %v, want ErrJobNotFound", err)
	}
}

func TestStore_PruneJob(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	live := newJob(job.StateRunning)
	done := newJob(job.StateCompleted)
	if err := s.CreateJob(ctx, live); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, done); err != nil {
		t.Fatal(err)
	}

	if err := s.PruneJob(ctx, live.ID); !errors.Is(err, stoker.ErrJobNotDone) {
		t.Fatalf("prune live = %v, want ErrJobNotDone", err)
	}
	if err := s.PruneJob(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.PruneJob(ctx, done.ID); !errors.Is(err, stoker.ErrJobNotFound) {
		t.Fatalf("second prune = %v, want ErrJobNotFound", err)
	}
}

func TestStore_PruneJobsAndFailUnfinished(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, st := range []job.State{job.StateCompleted, job.StateFailed, job.StateCanceled, job.StateRunning, job.StateQueued} {
		if err := s.CreateJob(ctx, newJob(st)); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.PruneJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	settled, err := s.FailUnfinished(ctx, "process restarted")
	if err != nil {
		t.Fatal(err)
	}
	if settled != 2 {
		t.Fatalf("settled = %d, want 2", settled)
	}

	jobs, err := s.ListJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range jobs {
		if j.State != job.StateFailed || j.Exception != "process restarted" {
			t.Fatalf("unsettled job: %+v", j)
		}
	}
}
