package pipeline

import (
	"context"
	"fmt"

	"github.com/steppipe/steppipe-go/pipeline/container"
)

// Step is a unit of work in a pipeline.
//
// Steps are polymorphic over one capability: run with injected arguments,
// produce a result. Implementations are free-form; there is no shared
// base state beyond this interface.
//
// Determinism contract: the executor does not seed or manage randomness.
// Each step is responsible for its own reproducible random-state
// management so that resuming from a checkpoint produces the same
// distribution of outcomes as an uninterrupted run.
type Step interface {
	// Name returns the step's human-readable identifier, used in the
	// ledger, events, and metrics.
	Name() string

	// Inputs declares the dependency keys this step needs. The executor
	// resolves each one from the container before invoking Run.
	Inputs() []container.Key

	// Run executes the step with its resolved arguments plus ambient
	// run metadata. The returned result is recorded in the ledger and
	// survives checkpoints when JSON-serializable; return nil for steps
	// whose effect lives in container singletons.
	Run(ctx context.Context, args Args) (any, error)
}

// Args carries a step's resolved argument set and ambient run metadata.
type Args struct {
	// RunID identifies the active run.
	RunID string

	// OutputDir is the run's artifact directory.
	OutputDir string

	// StepName is the running step's declared name.
	StepName string

	values map[container.Key]any
}

// Value returns the resolved value for one of the step's declared input
// keys.
func (a Args) Value(key container.Key) (any, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Arg returns the resolved value for key as T.
//
// Missing keys and type mismatches are reported as errors rather than
// panics, so a step can surface a clear failure for a mis-declared
// input.
func Arg[T any](a Args, key container.Key) (T, error) {
	var zero T

	v, ok := a.values[key]
	if !ok {
		return zero, fmt.Errorf("argument %q was not declared as an input", key.Bare())
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("argument %q has type %T, want %T", key.Bare(), v, zero)
	}
	return t, nil
}

// StepFunc adapts a plain function to the Step interface, for steps that
// don't warrant a named type.
//
// Example:
//
//	step := pipeline.NewStep("scale-lr",
//	    func(ctx context.Context, args pipeline.Args) (any, error) {
//	        lr, err := pipeline.Arg[float64](args, container.Name("lr"))
//	        if err != nil {
//	            return nil, err
//	        }
//	        return lr * 10, nil
//	    },
//	    container.Name("lr"),
//	)
type StepFunc struct {
	name   string
	inputs []container.Key
	fn     func(ctx context.Context, args Args) (any, error)
}

// NewStep creates a StepFunc with the given name, body, and declared
// input keys.
func NewStep(name string, fn func(ctx context.Context, args Args) (any, error), inputs ...container.Key) StepFunc {
	return StepFunc{
		name:   name,
		inputs: inputs,
		fn:     fn,
	}
}

// Name implements Step.
func (s StepFunc) Name() string { return s.name }

// Inputs implements Step.
func (s StepFunc) Inputs() []container.Key { return s.inputs }

// Run implements Step.
func (s StepFunc) Run(ctx context.Context, args Args) (any, error) {
	return s.fn(ctx, args)
}
