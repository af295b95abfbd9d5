// Package job defines the job record and its lifecycle, the persistence
// contract stores implement, the registry that resolves task names to
// handlers, and the Run execution context through which running work
// reports progress and observes cancellation.
//
// # Lifecycle
//
// A job moves through a fixed state machine:
//
//	SCHEDULED → QUEUED → RUNNING → COMPLETED | FAILED | CANCELING
//	CANCELING → CANCELED | COMPLETED | FAILED
//	QUEUED    → CANCELED
//
// COMPLETED, FAILED, and CANCELED are terminal: no transition leads out
// of them, and cancel or progress requests against a terminal job are
// no-ops. The CANCELING → COMPLETED/FAILED transitions cover the legal
// race where a job finishes before it observes the cancel request.
//
// # Handlers
//
// Handlers are registered under a stable task name with a typed payload;
// the job record stores only the name and the serialized payload, so
// records stay inspectable after a restart. Every handler receives a
// *Run alongside its payload and is expected to call Run.CheckCancel at
// safe checkpoints between non-atomic side effects.
package job
