// Package checkpoint persists and reloads pipeline run snapshots:
// container state plus the completed-step ledger, with pluggable
// storage backends.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/steppipe/steppipe-go/pipeline/container"
)

// Checkpoint is a persisted snapshot of a pipeline run at a step
// boundary, usable to resume the run without recomputation.
//
// A checkpoint is only ever written between steps, never mid-step, so a
// restored run always resumes by running a step from its start.
// Checkpoints are read-only once written: new saves never mutate old
// ones unless the OverwriteLatest policy is selected.
type Checkpoint struct {
	// RunID identifies the run this checkpoint belongs to. Optional.
	RunID string `json:"run_id,omitempty"`

	// Label is an optional user-defined name for this checkpoint,
	// e.g. "after-training". Empty for unnamed checkpoints.
	Label string `json:"label,omitempty"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Container is the serializable projection of the run's container:
	// built singleton state plus context variables and config.
	Container container.State `json:"container_state"`

	// Ledger is the ordered record of step completion and results.
	Ledger []LedgerEntry `json:"ledger"`
}

// LedgerEntry records one pipeline step's completion status and stored
// result.
type LedgerEntry struct {
	// Index is the step's sequence position in the pipeline (1-indexed).
	Index int `json:"index"`

	// Name is the step's declared name.
	Name string `json:"name"`

	// Completed reports whether the step ran to completion.
	Completed bool `json:"completed"`

	// Result is the step's stored result in JSON, when the result is
	// checkpoint-relevant. Absent for steps returning nothing.
	Result json.RawMessage `json:"result,omitempty"`
}

// Validate checks the checkpoint for structural completeness. Used by
// stores when loading, so corrupt or truncated snapshots surface as
// *LoadError instead of zero-valued runs.
func (c *Checkpoint) Validate() error {
	if c.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if c.Ledger == nil {
		return fmt.Errorf("missing ledger")
	}
	return nil
}
