// Package queue provides the scheduler facade — the single object the
// rest of the server talks to. It wires the job registry, the store,
// the hook registry, and the worker pool together and exposes the
// operations the admin surface needs: Enqueue, FetchJob, Jobs, Cancel,
// ClearJob, Clear, and Empty.
//
// This package sits above all subsystem packages and below the
// application layer; the root stoker package defines Entity and the
// sentinel errors, so it cannot import the subsystems back.
package queue
