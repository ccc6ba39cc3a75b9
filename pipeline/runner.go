// Package pipeline orchestrates checkpointable, resumable experiment
// pipelines: sequential step execution with dependency injection from a
// per-run container, and checkpoint creation at step boundaries.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/steppipe/steppipe-go/pipeline/checkpoint"
	"github.com/steppipe/steppipe-go/pipeline/container"
	"github.com/steppipe/steppipe-go/pipeline/emit"
)

// RunState is the runner's position in its lifecycle.
type RunState int

const (
	// StateInit is the zero value; New moves straight past it.
	StateInit RunState = iota

	// StateConfigured means the external config mapping has been
	// consumed but the pipeline function has not run yet.
	StateConfigured

	// StateWired means the container exists and, on resume, the loaded
	// checkpoint state has been installed.
	StateWired

	// StateExecuting means steps are running in declared order.
	StateExecuting

	// StateDone means all declared steps completed.
	StateDone

	// StateFailed means a step failed; the run aborted without writing
	// a checkpoint at the failure point.
	StateFailed
)

// String implements fmt.Stringer.
func (s RunState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConfigured:
		return "CONFIGURED"
	case StateWired:
		return "WIRED"
	case StateExecuting:
		return "EXECUTING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// PipelineFunc is the caller-supplied pipeline definition. It receives
// the runner, performs registrations on the runner's container, and
// issues steps in order via RunStep, with optional Checkpoint calls at
// step boundaries.
type PipelineFunc func(r *Runner) error

// Runner orchestrates one pipeline run.
//
// Each Runner explicitly owns one Container and one checkpoint Store;
// there is no process-global registry, so multiple runs can coexist in
// one process (useful for tests and parameter sweeps).
//
// Lifecycle: INIT → CONFIGURED (New) → WIRED (pipeline function starts
// issuing steps) → EXECUTING → DONE, with FAILED reachable from
// EXECUTING on step failure.
//
// Example:
//
//	runner := pipeline.New(cfg, nil,
//	    pipeline.WithOutputDir(outDir),
//	    pipeline.WithResume(checkpoint.Latest),
//	)
//	err := runner.Run(ctx, func(r *pipeline.Runner) error {
//	    r.Container().RegisterInstance(container.TypeKey[*Learner](), learner)
//	    if _, err := r.RunStep(ctx, trainStep); err != nil {
//	        return err
//	    }
//	    if err := r.Checkpoint(ctx, "trained"); err != nil {
//	        return err
//	    }
//	    _, err := r.RunStep(ctx, evalStep)
//	    return err
//	})
type Runner struct {
	config    map[string]any
	store     checkpoint.Store
	emitter   emit.Emitter
	metrics   *Metrics
	policy    checkpoint.NamingPolicy
	runID     string
	outputDir string
	resumeSel string
	autoCheck bool

	state     RunState
	container *container.Container
	executor  *Executor
	ledger    *ledger
	resumed   *checkpoint.Checkpoint
	stepIndex int
}

// New creates a Runner for one run over the given flat config mapping.
//
// The config mapping is the external-collaborator boundary: option name
// to typed scalar, already merged from whatever file formats and CLI
// flags the caller uses (see the config package for one such producer).
//
// A nil store defaults to a FileStore under the run's output directory.
// Checkpointing without either a store or an output directory fails at
// Checkpoint time, not here.
func New(config map[string]any, store checkpoint.Store, opts ...Option) *Runner {
	r := &Runner{
		config:  cloneConfig(config),
		store:   store,
		emitter: emit.NewNullEmitter(),
		policy:  checkpoint.Incremental,
		state:   StateConfigured,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	if r.store == nil && r.outputDir != "" {
		r.store = checkpoint.NewFileStore(r.outputDir)
	}

	return r
}

// RunID returns the run's identifier.
func (r *Runner) RunID() string { return r.runID }

// OutputDir returns the run's artifact directory ("" when unset).
func (r *Runner) OutputDir() string { return r.outputDir }

// State returns the runner's current lifecycle state.
func (r *Runner) State() RunState { return r.state }

// Container returns the run's dependency container. Nil before Run.
func (r *Runner) Container() *container.Container { return r.container }

// Ledger returns a snapshot of the current step ledger. Results that
// fail to serialize are reported the same way Checkpoint would report
// them.
func (r *Runner) Ledger() ([]checkpoint.LedgerEntry, error) {
	if r.ledger == nil {
		return nil, nil
	}
	return r.ledger.snapshot()
}

// Run executes the pipeline function against a fresh container.
//
// The pipeline function performs registrations and issues steps in
// order. When the runner was created with WithResume, the selected
// checkpoint is loaded up front (a load failure aborts the run before
// any step executes) and its container state is installed after the
// pipeline function's registrations, before the first step runs.
//
// Run returns the pipeline function's error unchanged; a step failure
// is a *StepFailure and leaves the last valid checkpoint untouched.
func (r *Runner) Run(ctx context.Context, pipeline PipelineFunc) error {
	if r.state != StateConfigured {
		return fmt.Errorf("run already started (state %s)", r.state)
	}

	// CONFIGURED: build the container and executor.
	r.container = container.New(r.config, container.WithEmitter(r.emitter))
	r.container.RegisterInstance(container.TypeKey[*container.Container](), r.container)
	r.container.RegisterInstance(container.TypeKey[*Runner](), r)
	r.ledger = newLedger()
	r.executor = NewExecutor(r.container,
		WithExecutorEmitter(r.emitter),
		WithExecutorMetrics(r.metrics),
		WithExecutorRun(r.runID, r.outputDir),
	)
	r.executor.ledger = r.ledger

	// Resolve the resume selector before any step executes; the runner
	// never falls back to a different checkpoint.
	if r.resumeSel != "" {
		if r.store == nil {
			return &checkpoint.LoadError{Selector: r.resumeSel, Cause: fmt.Errorf("no checkpoint store configured")}
		}
		cp, err := r.store.Load(ctx, r.resumeSel)
		if err != nil {
			return err
		}
		r.resumed = cp
	}

	if err := r.writeEffectiveConfig(); err != nil {
		return err
	}

	r.emitter.Emit(emit.Event{
		RunID: r.runID,
		Msg:   "run_start",
		Meta:  runMeta(r.resumeSel),
	})

	if err := pipeline(r); err != nil {
		r.state = StateFailed
		r.emitter.Emit(emit.Event{
			RunID: r.runID,
			Msg:   "run_failed",
			Meta:  map[string]interface{}{"error": err.Error()},
		})
		return err
	}

	r.state = StateDone
	r.emitter.Emit(emit.Event{
		RunID: r.runID,
		Msg:   "run_complete",
	})
	return nil
}

// RunStep executes the next step in declared order.
//
// On resume, a step whose ledger entry is marked complete is skipped:
// its stored result is reinstated (as decoded JSON values) rather than
// recomputed, and the first incomplete step resumes normal execution.
//
// When the runner was created with WithCheckpointEveryStep, an unnamed
// checkpoint is written after each freshly executed step.
func (r *Runner) RunStep(ctx context.Context, step Step) (any, error) {
	if err := r.ensureWired(); err != nil {
		return nil, err
	}
	r.state = StateExecuting
	r.stepIndex++
	index := r.stepIndex

	if entry, ok := r.ledger.completedEntry(index); ok && r.resumed != nil {
		if entry.name != step.Name() {
			// The pipeline's declared order no longer matches the
			// checkpoint; re-running is the safe interpretation.
			r.emitter.Emit(emit.Event{
				RunID:    r.runID,
				Step:     index,
				StepName: step.Name(),
				Msg:      "ledger_step_mismatch",
				Meta: map[string]interface{}{
					"ledger_name": entry.name,
				},
			})
		} else {
			result, err := entry.storedResult()
			if err != nil {
				return nil, err
			}
			r.metrics.stepSkipped()
			r.emitter.Emit(emit.Event{
				RunID:    r.runID,
				Step:     index,
				StepName: step.Name(),
				Msg:      "step_skipped",
				Meta:     map[string]interface{}{"skipped": true},
			})
			return result, nil
		}
	}

	result, err := r.executor.RunStep(ctx, index, step)
	if err != nil {
		// No checkpoint at the failure point: mid-failure state is not
		// a clean boundary. The last on-disk checkpoint stays as the
		// most recent safe resume point.
		r.state = StateFailed
		return nil, err
	}

	if r.autoCheck {
		if err := r.Checkpoint(ctx, ""); err != nil {
			r.state = StateFailed
			return nil, err
		}
	}

	return result, nil
}

// Checkpoint writes a snapshot of the current container state and ledger
// to the store under the runner's naming policy.
//
// Checkpoints are only legal at step boundaries: between RunStep calls
// while the run is live. Calling after a failure is rejected, since the
// container is not at a clean boundary.
func (r *Runner) Checkpoint(ctx context.Context, label string) error {
	switch r.state {
	case StateFailed:
		return fmt.Errorf("cannot checkpoint a failed run")
	case StateDone:
		return fmt.Errorf("cannot checkpoint a finished run")
	case StateConfigured, StateInit:
		if err := r.ensureWired(); err != nil {
			return err
		}
	}

	if r.store == nil {
		return fmt.Errorf("no checkpoint store configured (set a store or an output directory)")
	}

	state, err := r.container.StateDict()
	if err != nil {
		return err
	}
	entries, err := r.ledger.snapshot()
	if err != nil {
		return err
	}

	cp := &checkpoint.Checkpoint{
		RunID:     r.runID,
		Label:     label,
		Timestamp: time.Now().UTC(),
		Container: *state,
		Ledger:    entries,
	}

	selector, err := r.store.Save(ctx, cp, r.policy)
	if err != nil {
		return err
	}

	r.metrics.checkpointSaved()
	r.emitter.Emit(emit.Event{
		RunID:    r.runID,
		Step:     r.stepIndex,
		StepName: "",
		Msg:      "checkpoint_saved",
		Meta: map[string]interface{}{
			"checkpoint": selector,
			"label":      label,
			"policy":     r.policy.String(),
		},
	})
	return nil
}

// ensureWired completes the CONFIGURED → WIRED transition: the pipeline
// function has performed its registrations by the time the first step
// or checkpoint is issued, so a resumed run installs its loaded
// container state here.
func (r *Runner) ensureWired() error {
	if r.state != StateConfigured {
		if r.state == StateFailed {
			return fmt.Errorf("run has failed; no further steps may execute")
		}
		return nil
	}
	if r.container == nil {
		return fmt.Errorf("pipeline is not running; call Run first")
	}

	if r.resumed != nil {
		if err := r.container.LoadState(&r.resumed.Container); err != nil {
			return err
		}
		// The current run's explicit options win over the snapshot's;
		// the snapshot fills only the gaps.
		r.container.MergeConfig(r.config)
		r.ledger.restore(r.resumed.Ledger)

		r.emitter.Emit(emit.Event{
			RunID: r.runID,
			Msg:   "state_restored",
			Meta: map[string]interface{}{
				"checkpoint":      r.resumeSel,
				"completed_steps": countCompleted(r.resumed.Ledger),
			},
		})
	}

	r.state = StateWired
	return nil
}

// writeEffectiveConfig copies the run's effective option mapping into
// the output directory so the run is self-describing. Skipped when no
// output directory is set.
func (r *Runner) writeEffectiveConfig() error {
	if r.outputDir == "" || len(r.config) == 0 {
		return nil
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(r.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal effective config: %w", err)
	}

	path := filepath.Join(r.outputDir, "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write effective config: %w", err)
	}
	return nil
}

func runMeta(resumeSel string) map[string]interface{} {
	if resumeSel == "" {
		return nil
	}
	return map[string]interface{}{"resume": resumeSel}
}

func countCompleted(entries []checkpoint.LedgerEntry) int {
	n := 0
	for _, e := range entries {
		if e.Completed {
			n++
		}
	}
	return n
}

func cloneConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
