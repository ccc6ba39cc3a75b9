package pipeline

import "fmt"

// StepFailure is returned when a step's run capability fails. The cause
// is propagated unchanged: no retry, no checkpoint at the failure point.
// The last valid on-disk checkpoint remains the most recent safe resume
// point.
type StepFailure struct {
	// Step is the failing step's declared name.
	Step string

	// Index is the step's sequence position in the run (1-indexed).
	Index int

	// Cause is the error the step returned.
	Cause error
}

// Error implements the error interface.
func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Step, e.Cause)
}

// Unwrap returns the step's own error for errors.Is/As support.
func (e *StepFailure) Unwrap() error {
	return e.Cause
}
