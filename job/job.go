package job

import (
	"time"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
)

// State represents the lifecycle state of a job. The wire values are the
// upper-case names the admin frontend has always displayed.
type State string

const (
	// StateScheduled means the job record has been created but not yet
	// accepted into the queue.
	StateScheduled State = "SCHEDULED"
	// StateQueued means the job is waiting for a free worker slot.
	StateQueued State = "QUEUED"
	// StateRunning means a worker slot is executing the job.
	StateRunning State = "RUNNING"
	// StateCanceling means cancellation was requested while the job was
	// running; the job body has not yet observed it.
	StateCanceling State = "CANCELING"
	// StateCanceled means the job was cancelled before or during
	// execution and unwound cleanly.
	StateCanceled State = "CANCELED"
	// StateCompleted means the job body returned normally.
	StateCompleted State = "COMPLETED"
	// StateFailed means the job body returned an error or panicked;
	// Exception and Traceback carry the diagnostics.
	StateFailed State = "FAILED"
)

// transitions enumerates the legal state machine edges.
var transitions = map[State][]State{
	StateScheduled: {StateQueued, StateCanceled},
	StateQueued:    {StateRunning, StateCanceled},
	StateRunning:   {StateCompleted, StateFailed, StateCanceling},
	StateCanceling: {StateCanceled, StateCompleted, StateFailed},
}

// Terminal reports whether no transition leads out of s.
func (s State) Terminal() bool {
	return s == StateCanceled || s == StateCompleted || s == StateFailed
}

// CanTransitionTo reports whether the edge s → next is legal.
func (s State) CanTransitionTo(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// States returns all states in lifecycle order.
func States() []State {
	return []State{
		StateScheduled, StateQueued, StateRunning, StateCanceling,
		StateCanceled, StateCompleted, StateFailed,
	}
}

// NonTerminalStates returns the states a live job can be in.
func NonTerminalStates() []State {
	return []State{StateScheduled, StateQueued, StateRunning, StateCanceling}
}

// Job is one persisted unit of asynchronous work. Identity is immutable;
// state, progress, and diagnostics change as the job moves through its
// lifecycle. Payload and Metadata are treated as immutable once enqueued.
type Job struct {
	stoker.Entity

	ID   id.TaskID `json:"id"`
	Name string    `json:"name"`

	// Payload is the JSON-serialized argument value handed to the
	// handler, so the record can be inspected or replayed after a
	// restart.
	Payload []byte `json:"payload,omitempty"`

	State State `json:"state"`

	// Progress is a fraction in [0.0, 1.0], monotonically non-decreasing
	// while the job runs. Only meaningful when TrackProgress is set.
	Progress float64 `json:"progress"`

	// Cancellable marks whether cancel requests are honored for this
	// job. Set at enqueue time, immutable afterwards.
	Cancellable bool `json:"cancellable"`

	// TrackProgress enables progress reporting. When false, progress
	// updates from the job body are no-ops.
	TrackProgress bool `json:"track_progress"`

	// Exception and Traceback are populated when the job fails, and by
	// restart recovery for jobs the process lost mid-flight.
	Exception string `json:"exception,omitempty"`
	Traceback string `json:"traceback,omitempty"`

	// Metadata carries caller-supplied descriptive fields (type,
	// started_by, channel_id, …) through to observers verbatim. The
	// scheduler never interprets it.
	Metadata map[string]any `json:"metadata,omitempty"`

	// WorkerID records which pool instance claimed the job.
	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep enough copy for handing across goroutine
// boundaries: scalar fields are copied, Metadata gets a fresh map.
// Payload is shared since it is immutable by contract.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Metadata != nil {
		cp.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
