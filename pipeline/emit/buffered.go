package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// run-history analysis. Events are organized by runID for efficient
// retrieval and filtering.
//
// Use cases:
//   - Development and debugging
//   - Testing and validation (assert on emitted events)
//   - Post-run analysis
//
// Warning: this emitter stores all events in memory. For long pipelines
// with high event volume, clear runs you no longer need.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	runner := pipeline.New(cfg, store, pipeline.WithEmitter(emitter))
//
//	// ... run the pipeline ...
//
//	history := emitter.GetHistory("run-001")
//	failures := emitter.GetHistoryWithFilter("run-001", emit.HistoryFilter{Msg: "step_failed"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering run history.
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic (all conditions must match).
type HistoryFilter struct {
	StepName string // Filter by step name (empty = no filter)
	Msg      string // Filter by message (empty = no filter)
	MinStep  *int   // Minimum step number (nil = no filter)
	MaxStep  *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
//
// Returns a BufferedEmitter that stores all events in memory and provides
// query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
//
// Events are organized by runID for efficient retrieval.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory retrieves all events for a specific runID.
//
// Returns events in the order they were emitted, as a copy to prevent
// concurrent modification issues. Returns an empty slice if no events
// exist for the given runID.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves events for a runID matching the filter.
//
// Returns matching events in emission order. An empty filter matches
// every event and is equivalent to GetHistory.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events[runID] {
		if filter.StepName != "" && event.StepName != filter.StepName {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		if filter.MinStep != nil && event.Step < *filter.MinStep {
			continue
		}
		if filter.MaxStep != nil && event.Step > *filter.MaxStep {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Clear removes all events for a specific runID.
//
// Use this to release memory after a run's history is no longer needed.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.events, runID)
}

// ClearAll removes all stored events for all runs.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = make(map[string][]Event)
}
