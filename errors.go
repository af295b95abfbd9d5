package stoker

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("stoker: no store configured")
	ErrStoreClosed = errors.New("stoker: store closed")

	// Lookup errors.
	ErrJobNotFound      = errors.New("stoker: job not found")
	ErrJobAlreadyExists = errors.New("stoker: job already exists")

	// ErrInvalidFunction is returned by Enqueue when the task name does
	// not resolve to a registered handler. No job record is created.
	ErrInvalidFunction = errors.New("stoker: task name not registered")

	// State errors.
	ErrInvalidState = errors.New("stoker: invalid state transition")
	ErrJobNotDone   = errors.New("stoker: job not in a terminal state")
)

// ErrTaskCanceled is the cancellation signal of the cooperative contract.
// Run.CheckCancel returns it once a cancel request has landed; a handler
// that honors the request returns it (possibly wrapped) to unwind, and
// the execution wrapper records the job as CANCELED rather than FAILED.
var ErrTaskCanceled = errors.New("stoker: task canceled by request")
