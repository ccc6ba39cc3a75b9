package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/steppipe/steppipe-go/pipeline"
	"github.com/steppipe/steppipe-go/pipeline/checkpoint"
	"github.com/steppipe/steppipe-go/pipeline/container"
	"github.com/steppipe/steppipe-go/pipeline/emit"
)

// trainable is a Stateful singleton standing in for a model or replay
// buffer whose accumulated state must survive resume.
type trainable struct {
	Steps int
}

func (tr *trainable) StateDict() (map[string]any, error) {
	return map[string]any{"steps": tr.Steps}, nil
}

func (tr *trainable) LoadStateDict(state map[string]any) error {
	v, ok := state["steps"].(float64)
	if !ok {
		return errors.New("state missing steps")
	}
	tr.Steps = int(v)
	return nil
}

var trainableKey = container.TypeKey[*trainable]()

func TestRunnerHappyPath(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore()

	runner := pipeline.New(map[string]any{"epochs": 2}, store, pipeline.WithRunID("run-happy"))

	var order []string
	err := runner.Run(ctx, func(r *pipeline.Runner) error {
		r.Container().RegisterSingleton(trainableKey, func() (any, error) {
			return &trainable{}, nil
		})

		train := pipeline.NewStep("train",
			func(ctx context.Context, args pipeline.Args) (any, error) {
				order = append(order, "train")
				tr, err := pipeline.Arg[*trainable](args, trainableKey)
				if err != nil {
					return nil, err
				}
				epochs, err := pipeline.Arg[int](args, container.Name("epochs"))
				if err != nil {
					return nil, err
				}
				tr.Steps += epochs
				return tr.Steps, nil
			},
			trainableKey, container.Name("epochs"),
		)
		eval := pipeline.NewStep("eval",
			func(ctx context.Context, args pipeline.Args) (any, error) {
				order = append(order, "eval")
				return map[string]any{"score": 0.9}, nil
			},
		)

		if _, err := r.RunStep(ctx, train); err != nil {
			return err
		}
		if err := r.Checkpoint(ctx, "trained"); err != nil {
			return err
		}
		_, err := r.RunStep(ctx, eval)
		return err
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(order) != 2 || order[0] != "train" || order[1] != "eval" {
		t.Errorf("step order = %v, want [train eval]", order)
	}
	if runner.State() != pipeline.StateDone {
		t.Errorf("final state = %s, want DONE", runner.State())
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d checkpoints, want 1 explicit checkpoint", store.Len())
	}
}

func TestRunnerResumeSkipsCompletedSteps(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore()
	interrupt := errors.New("interrupted")

	// Counts actual executions of each step across both runs.
	executed := map[string]int{}

	definePipeline := func(failEval bool) pipeline.PipelineFunc {
		return func(r *pipeline.Runner) error {
			r.Container().RegisterSingleton(trainableKey, func() (any, error) {
				return &trainable{}, nil
			})

			train := pipeline.NewStep("train",
				func(ctx context.Context, args pipeline.Args) (any, error) {
					executed["train"]++
					tr, err := pipeline.Arg[*trainable](args, trainableKey)
					if err != nil {
						return nil, err
					}
					tr.Steps = 10
					return map[string]any{"loss": 0.25}, nil
				},
				trainableKey,
			)
			eval := pipeline.NewStep("eval",
				func(ctx context.Context, args pipeline.Args) (any, error) {
					executed["eval"]++
					if failEval {
						return nil, interrupt
					}
					tr, err := pipeline.Arg[*trainable](args, trainableKey)
					if err != nil {
						return nil, err
					}
					return tr.Steps, nil
				},
				trainableKey,
			)

			if _, err := r.RunStep(ctx, train); err != nil {
				return err
			}
			if err := r.Checkpoint(ctx, ""); err != nil {
				return err
			}
			_, err := r.RunStep(ctx, eval)
			return err
		}
	}

	// First run: train completes and is checkpointed, eval dies.
	first := pipeline.New(nil, store, pipeline.WithRunID("run-a"))
	err := first.Run(ctx, definePipeline(true))
	if !errors.Is(err, interrupt) {
		t.Fatalf("first run error = %v, want the interrupt", err)
	}

	// Second run resumes from the checkpoint and finishes.
	second := pipeline.New(nil, store,
		pipeline.WithRunID("run-a"),
		pipeline.WithResume(checkpoint.Latest),
	)
	var evalResult any
	err = second.Run(ctx, func(r *pipeline.Runner) error {
		inner := definePipeline(false)
		if err := inner(r); err != nil {
			return err
		}
		tr, err := container.Resolve[*trainable](r.Container(), trainableKey)
		if err != nil {
			return err
		}
		evalResult = tr.Steps
		return nil
	})
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	if executed["train"] != 1 {
		t.Errorf("train executed %d times, want 1 (resume must skip it)", executed["train"])
	}
	if executed["eval"] != 2 {
		t.Errorf("eval executed %d times, want 2 (failed once, resumed once)", executed["eval"])
	}
	// The singleton's state was restored from the checkpoint, not
	// recomputed, and matches what an uninterrupted run would produce.
	if evalResult != 10 {
		t.Errorf("restored trainable steps = %v, want 10", evalResult)
	}
}

func TestRunnerResumeReturnsStoredResults(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore()
	boom := errors.New("boom")

	fn := func(fail bool, sink *any) pipeline.PipelineFunc {
		return func(r *pipeline.Runner) error {
			train := pipeline.NewStep("train",
				func(ctx context.Context, args pipeline.Args) (any, error) {
					return map[string]any{"loss": 0.5}, nil
				},
			)
			crash := pipeline.NewStep("crash",
				func(ctx context.Context, args pipeline.Args) (any, error) {
					if fail {
						return nil, boom
					}
					return nil, nil
				},
			)

			result, err := r.RunStep(ctx, train)
			if err != nil {
				return err
			}
			if sink != nil {
				*sink = result
			}
			if err := r.Checkpoint(ctx, ""); err != nil {
				return err
			}
			_, err = r.RunStep(ctx, crash)
			return err
		}
	}

	first := pipeline.New(nil, store)
	if err := first.Run(ctx, fn(true, nil)); !errors.Is(err, boom) {
		t.Fatalf("first run error = %v, want boom", err)
	}

	var restored any
	second := pipeline.New(nil, store, pipeline.WithResume(checkpoint.Latest))
	if err := second.Run(ctx, fn(false, &restored)); err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	// Stored results come back as decoded JSON values.
	m, ok := restored.(map[string]any)
	if !ok {
		t.Fatalf("restored result type = %T, want map", restored)
	}
	if m["loss"] != 0.5 {
		t.Errorf("restored loss = %v, want 0.5", m["loss"])
	}
}

func TestRunnerResumeCurrentConfigWins(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore()

	save := pipeline.New(map[string]any{"lr": 0.01, "epochs": 5}, store)
	err := save.Run(ctx, func(r *pipeline.Runner) error {
		return r.Checkpoint(ctx, "")
	})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The resumed run overrides lr; epochs comes from the snapshot.
	var lr, epochs any
	resumed := pipeline.New(map[string]any{"lr": 0.5}, store, pipeline.WithResume(checkpoint.Latest))
	err = resumed.Run(ctx, func(r *pipeline.Runner) error {
		probe := pipeline.NewStep("probe",
			func(ctx context.Context, args pipeline.Args) (any, error) {
				var err error
				if lr, err = pipeline.Arg[float64](args, container.Name("lr")); err != nil {
					return nil, err
				}
				epochs, err = pipeline.Arg[float64](args, container.Name("epochs"))
				return nil, err
			},
			container.Name("lr"), container.Name("epochs"),
		)
		_, err := r.RunStep(ctx, probe)
		return err
	})
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	if lr != 0.5 {
		t.Errorf("lr = %v, want the current run's override 0.5", lr)
	}
	if epochs != float64(5) {
		t.Errorf("epochs = %v, want the snapshot's 5", epochs)
	}
}

func TestRunnerFailureLeavesCheckpointUntouched(t *testing.T) {
	ctx := context.Background()
	outDir := t.TempDir()
	boom := errors.New("boom")

	runner := pipeline.New(map[string]any{"lr": 0.01}, nil,
		pipeline.WithOutputDir(outDir),
	)

	var savedPath string
	err := runner.Run(ctx, func(r *pipeline.Runner) error {
		train := pipeline.NewStep("train",
			func(ctx context.Context, args pipeline.Args) (any, error) {
				return 1, nil
			},
		)
		crash := pipeline.NewStep("crash",
			func(ctx context.Context, args pipeline.Args) (any, error) {
				// Capture the checkpoint bytes as they are just before
				// the failure.
				savedPath = filepath.Join(outDir, checkpoint.Subdir, "cp-000001.json")
				return nil, boom
			},
		)

		if _, err := r.RunStep(ctx, train); err != nil {
			return err
		}
		if err := r.Checkpoint(ctx, ""); err != nil {
			return err
		}
		_, err := r.RunStep(ctx, crash)
		return err
	})
	if !errors.Is(err, boom) {
		t.Fatalf("run error = %v, want boom", err)
	}

	var failure *pipeline.StepFailure
	if !errors.As(err, &failure) {
		t.Fatalf("error type = %T, want *StepFailure", err)
	}
	if runner.State() != pipeline.StateFailed {
		t.Errorf("state = %s, want FAILED", runner.State())
	}

	// The failure wrote nothing: the one explicit checkpoint is the only
	// file, still loadable, still describing one completed step.
	entries, readErr := os.ReadDir(filepath.Join(outDir, checkpoint.Subdir))
	if readErr != nil {
		t.Fatalf("failed to read checkpoint dir: %v", readErr)
	}
	if len(entries) != 1 {
		t.Fatalf("checkpoint dir has %d files, want 1", len(entries))
	}

	store := checkpoint.NewFileStore(outDir)
	cp, loadErr := store.Load(ctx, savedPath)
	if loadErr != nil {
		t.Fatalf("checkpoint unloadable after failure: %v", loadErr)
	}
	if len(cp.Ledger) != 1 || !cp.Ledger[0].Completed {
		t.Errorf("checkpoint ledger = %+v, want the single completed train step", cp.Ledger)
	}

	// The failed run rejects further work.
	if err := runner.Checkpoint(ctx, "late"); err == nil {
		t.Error("checkpoint after failure should be rejected")
	}
}

func TestRunnerAutoCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore()

	runner := pipeline.New(nil, store, pipeline.WithCheckpointEveryStep())
	err := runner.Run(ctx, func(r *pipeline.Runner) error {
		for _, name := range []string{"a", "b", "c"} {
			step := pipeline.NewStep(name,
				func(ctx context.Context, args pipeline.Args) (any, error) {
					return nil, nil
				},
			)
			if _, err := r.RunStep(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if store.Len() != 3 {
		t.Errorf("store holds %d checkpoints, want one per step", store.Len())
	}
}

func TestRunnerResumeByLabel(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore()

	first := pipeline.New(nil, store)
	err := first.Run(ctx, func(r *pipeline.Runner) error {
		one := pipeline.NewStep("one", func(ctx context.Context, args pipeline.Args) (any, error) {
			return 1, nil
		})
		two := pipeline.NewStep("two", func(ctx context.Context, args pipeline.Args) (any, error) {
			return 2, nil
		})
		if _, err := r.RunStep(ctx, one); err != nil {
			return err
		}
		if err := r.Checkpoint(ctx, "after-one"); err != nil {
			return err
		}
		if _, err := r.RunStep(ctx, two); err != nil {
			return err
		}
		return r.Checkpoint(ctx, "after-two")
	})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	executed := map[string]int{}
	second := pipeline.New(nil, store, pipeline.WithResume("after-one"))
	err = second.Run(ctx, func(r *pipeline.Runner) error {
		one := pipeline.NewStep("one", func(ctx context.Context, args pipeline.Args) (any, error) {
			executed["one"]++
			return 1, nil
		})
		two := pipeline.NewStep("two", func(ctx context.Context, args pipeline.Args) (any, error) {
			executed["two"]++
			return 2, nil
		})
		if _, err := r.RunStep(ctx, one); err != nil {
			return err
		}
		_, err := r.RunStep(ctx, two)
		return err
	})
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	if executed["one"] != 0 {
		t.Errorf("step one executed %d times, want 0", executed["one"])
	}
	if executed["two"] != 1 {
		t.Errorf("step two executed %d times, want 1 (the after-one checkpoint predates it)", executed["two"])
	}
}

func TestRunnerResumeMissingCheckpointAborts(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore()

	ran := false
	runner := pipeline.New(nil, store, pipeline.WithResume("no-such-checkpoint"))
	err := runner.Run(ctx, func(r *pipeline.Runner) error {
		ran = true
		return nil
	})

	var loadErr *checkpoint.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("error type = %T, want *LoadError", err)
	}
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Error("missing checkpoint should unwrap to ErrNotFound")
	}
	if ran {
		t.Error("pipeline function ran despite failed resume")
	}
}

func TestRunnerStepMismatchReRuns(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore()
	buf := emit.NewBufferedEmitter()

	first := pipeline.New(nil, store, pipeline.WithRunID("run-m"))
	err := first.Run(ctx, func(r *pipeline.Runner) error {
		step := pipeline.NewStep("old-name", func(ctx context.Context, args pipeline.Args) (any, error) {
			return nil, nil
		})
		if _, err := r.RunStep(ctx, step); err != nil {
			return err
		}
		return r.Checkpoint(ctx, "")
	})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The resumed pipeline declares a different first step; the stale
	// ledger entry must not suppress it.
	executed := 0
	second := pipeline.New(nil, store,
		pipeline.WithRunID("run-m"),
		pipeline.WithResume(checkpoint.Latest),
		pipeline.WithEmitter(buf),
	)
	err = second.Run(ctx, func(r *pipeline.Runner) error {
		step := pipeline.NewStep("new-name", func(ctx context.Context, args pipeline.Args) (any, error) {
			executed++
			return nil, nil
		})
		_, err := r.RunStep(ctx, step)
		return err
	})
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	if executed != 1 {
		t.Errorf("renamed step executed %d times, want 1", executed)
	}
	if events := buf.GetHistoryWithFilter("run-m", emit.HistoryFilter{Msg: "ledger_step_mismatch"}); len(events) != 1 {
		t.Errorf("got %d mismatch events, want 1", len(events))
	}
}

func TestRunnerLifecycleGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("step before run", func(t *testing.T) {
		runner := pipeline.New(nil, checkpoint.NewMemStore())
		step := pipeline.NewStep("early", func(ctx context.Context, args pipeline.Args) (any, error) {
			return nil, nil
		})
		if _, err := runner.RunStep(ctx, step); err == nil {
			t.Error("RunStep before Run should fail")
		}
	})

	t.Run("run twice", func(t *testing.T) {
		runner := pipeline.New(nil, checkpoint.NewMemStore())
		noop := func(r *pipeline.Runner) error { return nil }
		if err := runner.Run(ctx, noop); err != nil {
			t.Fatalf("first run failed: %v", err)
		}
		if err := runner.Run(ctx, noop); err == nil {
			t.Error("second Run on the same runner should fail")
		}
	})

	t.Run("checkpoint without store", func(t *testing.T) {
		runner := pipeline.New(nil, nil)
		err := runner.Run(ctx, func(r *pipeline.Runner) error {
			return r.Checkpoint(ctx, "")
		})
		if err == nil {
			t.Error("checkpoint without store or output dir should fail")
		}
	})
}

func TestRunnerWritesEffectiveConfig(t *testing.T) {
	ctx := context.Background()
	outDir := t.TempDir()

	runner := pipeline.New(map[string]any{"lr": 0.01}, checkpoint.NewMemStore(),
		pipeline.WithOutputDir(outDir),
	)
	err := runner.Run(ctx, func(r *pipeline.Runner) error { return nil })
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "config.json"))
	if err != nil {
		t.Fatalf("effective config not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("effective config is empty")
	}
}

func TestRunnerDefaultsFileStoreFromOutputDir(t *testing.T) {
	ctx := context.Background()
	outDir := t.TempDir()

	runner := pipeline.New(nil, nil, pipeline.WithOutputDir(outDir))
	err := runner.Run(ctx, func(r *pipeline.Runner) error {
		return r.Checkpoint(ctx, "initial")
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(outDir, checkpoint.Subdir))
	if err != nil {
		t.Fatalf("checkpoint dir missing: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("checkpoint dir has %d files, want 1", len(entries))
	}
}

func TestRunStateString(t *testing.T) {
	cases := []struct {
		state pipeline.RunState
		want  string
	}{
		{pipeline.StateInit, "INIT"},
		{pipeline.StateConfigured, "CONFIGURED"},
		{pipeline.StateWired, "WIRED"},
		{pipeline.StateExecuting, "EXECUTING"},
		{pipeline.StateDone, "DONE"},
		{pipeline.StateFailed, "FAILED"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
