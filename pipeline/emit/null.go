package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use cases:
//   - Runs where observability overhead is unwanted
//   - Tests that don't assert on events
//   - Disabling event emission without changing code
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
//
// Returns a NullEmitter that discards all events without any processing.
// Safe for concurrent use, zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
