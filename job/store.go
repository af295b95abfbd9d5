package job

import (
	"context"

	"github.com/emberline/stoker/id"
)

// Finalization is the terminal write applied when a job finishes.
type Finalization struct {
	// State must be one of the terminal states.
	State State

	// Exception and Traceback carry diagnostics for FAILED jobs.
	Exception string
	Traceback string

	// Progress, when non-nil, is persisted along with the state so the
	// last reported fraction survives on the finished record. Nil leaves
	// the stored value untouched.
	Progress *float64
}

// Store defines the persistence contract for job records. The store is
// the single source of truth: all state transitions go through it, and
// the claim/CAS operations are atomic so that no two worker slots ever
// hold the same job.
type Store interface {
	// CreateJob persists a new job record exactly as given. Returns
	// stoker.ErrJobAlreadyExists when the ID is already present.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns stoker.ErrJobNotFound when
	// no record with that ID exists (including after it was pruned).
	GetJob(ctx context.Context, taskID id.TaskID) (*Job, error)

	// ListJobs returns a snapshot of all job records in enqueue order.
	ListJobs(ctx context.Context) ([]*Job, error)

	// ClaimJobs atomically moves up to limit of the oldest QUEUED jobs
	// to RUNNING, stamps StartedAt and the claiming worker, and returns
	// them. Two concurrent callers never receive the same job.
	ClaimJobs(ctx context.Context, workerID id.WorkerID, limit int) ([]*Job, error)

	// TransitionJob compare-and-sets the job's state: the write applies
	// only if the current state is one of from. Returns the updated job,
	// stoker.ErrInvalidState when the current state did not match, or
	// stoker.ErrJobNotFound.
	TransitionJob(ctx context.Context, taskID id.TaskID, from []State, to State) (*Job, error)

	// FinalizeJob applies a terminal write. It is rejected with
	// stoker.ErrInvalidState if the job is already terminal, so a
	// finished job can never be overwritten.
	FinalizeJob(ctx context.Context, taskID id.TaskID, fin Finalization) (*Job, error)

	// UpdateProgress persists a progress fraction. The write applies
	// only while the job is RUNNING or CANCELING and is silently
	// discarded otherwise.
	UpdateProgress(ctx context.Context, taskID id.TaskID, progress float64) error

	// PruneJob deletes a job record, but only if it is terminal.
	// Returns stoker.ErrJobNotDone for a live job and
	// stoker.ErrJobNotFound for an absent one. The terminal check and
	// the delete are a single atomic step.
	PruneJob(ctx context.Context, taskID id.TaskID) error

	// PruneJobs deletes every terminal job record and reports how many
	// were removed.
	PruneJobs(ctx context.Context) (int64, error)

	// FailUnfinished marks every non-terminal job FAILED with the given
	// diagnostic. Called at startup to settle jobs the previous process
	// left in flight.
	FailUnfinished(ctx context.Context, reason string) (int64, error)

	// Migrate prepares backend schema. No-op for schemaless backends.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources. Backends whose clients are owned
	// by the caller treat this as a no-op.
	Close() error
}
