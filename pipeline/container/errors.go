package container

import "fmt"

// ResolutionError is returned when a key is requested from the container
// but was never registered, or when a factory itself failed during
// construction. It is never retried and surfaces immediately to the
// caller of Resolve.
type ResolutionError struct {
	// Key is the dependency key that could not be resolved.
	Key Key

	// Cause is the underlying error, if the failure came from a factory
	// or a type mismatch rather than a missing registration.
	Cause error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot resolve dependency %q: %v", e.Key.Bare(), e.Cause)
	}
	return fmt.Sprintf("cannot resolve dependency %q: not registered", e.Key.Bare())
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// SerializationError is returned when a built singleton cannot be
// represented in a container state snapshot, or when a snapshot cannot
// be installed back into an instance. Data is never silently dropped:
// a value that cannot round-trip fails the snapshot.
type SerializationError struct {
	// Key is the singleton key whose value failed to (de)serialize.
	Key Key

	// Cause is the underlying marshal/unmarshal error.
	Cause error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("cannot serialize singleton %q: %v", e.Key.Bare(), e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SerializationError) Unwrap() error {
	return e.Cause
}
