package job

import "context"

// Definition is a typed task definition. T is the payload type and must
// be JSON-serializable so records survive persistence and restart.
type Definition[T any] struct {
	// Name is the stable identifier the job record stores in place of a
	// function value.
	Name string

	// Handler processes the payload. It receives the Run execution
	// context for progress reporting and cancellation checks.
	Handler func(ctx context.Context, run *Run, payload T) error
}

// NewDefinition creates a typed task definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, run *Run, payload T) error) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler}
}
