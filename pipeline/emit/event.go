package emit

// Event represents an observability event emitted during pipeline execution.
//
// Events provide insight into run behavior:
//   - Step execution start/complete
//   - Checkpoint save/load operations
//   - Container state restoration
//   - Errors and warnings
//
// Events are delivered to an Emitter which can:
//   - Log to stdout/stderr or files
//   - Send to OpenTelemetry
//   - Buffer in memory for post-run inspection
type Event struct {
	// RunID identifies the pipeline run that emitted this event.
	RunID string

	// Step is the sequential step number in the pipeline (1-indexed).
	// Zero for run-level events (run_start, run_complete, run_failed).
	Step int

	// StepName identifies which pipeline step emitted this event.
	// Empty string for run-level events.
	StepName string

	// Msg is a short machine-matchable description of the event,
	// e.g. "step_start", "step_complete", "checkpoint_saved".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": step execution duration in milliseconds
	//   - "error": error details
	//   - "checkpoint": checkpoint label or path
	//   - "skipped": true when a step was skipped during resume
	Meta map[string]interface{}
}
