package pipeline

import (
	"github.com/steppipe/steppipe-go/pipeline/checkpoint"
	"github.com/steppipe/steppipe-go/pipeline/emit"
)

// Option is a functional option for configuring a Runner.
//
// Example:
//
//	runner := pipeline.New(cfg, store,
//	    pipeline.WithRunID("cartpole-007"),
//	    pipeline.WithOutputDir("./runs/cartpole-007"),
//	    pipeline.WithNamingPolicy(checkpoint.OverwriteLatest),
//	)
type Option func(*Runner)

// WithRunID sets the run's identifier. Defaults to a fresh UUID.
func WithRunID(runID string) Option {
	return func(r *Runner) { r.runID = runID }
}

// WithOutputDir sets the run's artifact directory. The effective config
// is copied there, steps receive it in Args, and it is the default root
// for a FileStore when no store was supplied. Empty means no artifact
// directory.
func WithOutputDir(dir string) Option {
	return func(r *Runner) { r.outputDir = dir }
}

// WithEmitter routes run events to the given emitter. Defaults to a
// NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(r *Runner) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithMetrics attaches Prometheus metrics to the run. Defaults to no
// metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithNamingPolicy selects how saved checkpoints are named. Defaults to
// checkpoint.Incremental.
func WithNamingPolicy(policy checkpoint.NamingPolicy) Option {
	return func(r *Runner) { r.policy = policy }
}

// WithResume makes the run resume from the selected checkpoint:
// checkpoint.Latest, a label, or a store-specific selector returned by
// an earlier save. The checkpoint is loaded before any step executes;
// a load failure aborts the run.
func WithResume(selector string) Option {
	return func(r *Runner) { r.resumeSel = selector }
}

// WithCheckpointEveryStep writes an unnamed checkpoint after every
// freshly executed step, bounding the work lost to an external
// interrupt to the in-flight step. Off by default: checkpoints are
// explicit Checkpoint calls.
func WithCheckpointEveryStep() Option {
	return func(r *Runner) { r.autoCheck = true }
}
