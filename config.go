package stoker

import "time"

// Config holds tuning knobs for the queue and its worker pool.
type Config struct {
	// Concurrency is the number of worker slots executing jobs in
	// parallel. Each slot runs at most one job at a time.
	Concurrency int

	// PollInterval is the base delay between claim attempts when the
	// queue is empty. The pool's idle backoff strategy may stretch it.
	PollInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs
	// before requesting cancellation of the stragglers.
	ShutdownTimeout time.Duration

	// ProgressWriteRate caps how many progress updates per second a
	// single running job persists to the store. Job bodies may report
	// progress far more often than is worth writing; the latest value is
	// always kept in memory and flushed when the job finishes.
	ProgressWriteRate float64

	// ProgressWriteBurst is the burst size for the progress write
	// limiter.
	ProgressWriteBurst int
}

// DefaultConfig returns a Config sized for a single-node content server.
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		PollInterval:       500 * time.Millisecond,
		ShutdownTimeout:    30 * time.Second,
		ProgressWriteRate:  5,
		ProgressWriteBurst: 1,
	}
}
