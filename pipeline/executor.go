package pipeline

import (
	"context"
	"time"

	"github.com/steppipe/steppipe-go/pipeline/container"
	"github.com/steppipe/steppipe-go/pipeline/emit"
)

// Executor resolves a step's declared inputs from the container, invokes
// the step, and records its result in the active ledger.
//
// The executor does not retry: steps are assumed non-idempotent unless
// written to be pure, so any failure propagates unchanged to the runner.
type Executor struct {
	container *container.Container
	ledger    *ledger
	emitter   emit.Emitter
	metrics   *Metrics
	runID     string
	outputDir string
}

// NewExecutor creates an executor bound to one container and ledger.
// The runner constructs one per run; standalone use is possible for
// callers that drive steps themselves.
func NewExecutor(c *container.Container, opts ...ExecutorOption) *Executor {
	e := &Executor{
		container: c,
		ledger:    newLedger(),
		emitter:   emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor at construction.
type ExecutorOption func(*Executor)

// WithExecutorEmitter routes executor events to the given emitter.
func WithExecutorEmitter(em emit.Emitter) ExecutorOption {
	return func(e *Executor) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithExecutorMetrics attaches Prometheus metrics to the executor.
func WithExecutorMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithExecutorRun sets the ambient run metadata passed to steps.
func WithExecutorRun(runID, outputDir string) ExecutorOption {
	return func(e *Executor) {
		e.runID = runID
		e.outputDir = outputDir
	}
}

// RunStep executes one step at the given sequence position.
//
// It resolves each declared input from the container, invokes the step
// with those arguments plus the ambient run metadata, records the result
// against the step's identifier in the active ledger, and returns the
// result. A resolution failure surfaces as *container.ResolutionError;
// a failure from the step itself surfaces as *StepFailure wrapping the
// step's error unchanged.
func (e *Executor) RunStep(ctx context.Context, index int, step Step) (any, error) {
	name := step.Name()

	// The running step's name is visible to resolution, matching the
	// container's named-dependency semantics.
	e.container.UpdateContext(map[string]any{"pipeline_step": name})

	e.emitter.Emit(emit.Event{
		RunID:    e.runID,
		Step:     index,
		StepName: name,
		Msg:      "step_start",
	})
	e.metrics.stepStarted()
	start := time.Now()

	args, err := e.resolveArgs(name, step.Inputs())
	if err != nil {
		e.finish(index, name, start, err)
		return nil, err
	}

	result, err := step.Run(ctx, args)
	if err != nil {
		failure := &StepFailure{Step: name, Index: index, Cause: err}
		e.finish(index, name, start, failure)
		return nil, failure
	}

	e.ledger.record(index, name, result)
	e.finish(index, name, start, nil)
	return result, nil
}

// resolveArgs builds the step's argument set from its declared inputs.
func (e *Executor) resolveArgs(stepName string, inputs []container.Key) (Args, error) {
	values := make(map[container.Key]any, len(inputs))
	for _, key := range inputs {
		v, err := e.container.Resolve(key)
		if err != nil {
			return Args{}, err
		}
		values[key] = v
	}

	return Args{
		RunID:     e.runID,
		OutputDir: e.outputDir,
		StepName:  stepName,
		values:    values,
	}, nil
}

// finish emits the step's terminal event and records metrics.
func (e *Executor) finish(index int, name string, start time.Time, err error) {
	elapsed := time.Since(start)

	if err != nil {
		e.metrics.stepFinished(name, "error", elapsed)
		e.emitter.Emit(emit.Event{
			RunID:    e.runID,
			Step:     index,
			StepName: name,
			Msg:      "step_failed",
			Meta: map[string]interface{}{
				"error":       err.Error(),
				"duration_ms": elapsed.Milliseconds(),
			},
		})
		return
	}

	e.metrics.stepFinished(name, "success", elapsed)
	e.emitter.Emit(emit.Event{
		RunID:    e.runID,
		Step:     index,
		StepName: name,
		Msg:      "step_complete",
		Meta: map[string]interface{}{
			"duration_ms": elapsed.Milliseconds(),
		},
	})
}
