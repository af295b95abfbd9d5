package job

// Options configures per-job behavior fixed at enqueue time.
type Options struct {
	// Cancellable marks the job as eligible for cancellation. Cancel
	// requests against non-cancellable jobs are no-ops.
	Cancellable bool

	// TrackProgress enables fractional progress reporting for the job.
	TrackProgress bool

	// Metadata is the caller-supplied descriptive mapping carried
	// through to observers unchanged.
	Metadata map[string]any
}

// DefaultOptions returns the zero-value option set: not cancellable, no
// progress tracking, no metadata.
func DefaultOptions() Options {
	return Options{}
}

// Option is a functional option applied at enqueue time.
type Option func(*Options)

// WithCancellable marks the job as cancellable.
func WithCancellable() Option {
	return func(o *Options) {
		o.Cancellable = true
	}
}

// WithTrackProgress enables progress tracking for the job.
func WithTrackProgress() Option {
	return func(o *Options) {
		o.TrackProgress = true
	}
}

// WithMetadata attaches caller-supplied descriptive fields to the job.
// Later calls merge over earlier ones key by key.
func WithMetadata(m map[string]any) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]any, len(m))
		}
		for k, v := range m {
			o.Metadata[k] = v
		}
	}
}
