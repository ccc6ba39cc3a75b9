package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/steppipe/steppipe-go/pipeline/checkpoint"
	"github.com/steppipe/steppipe-go/pipeline/container"
)

// ledgerEntry is the in-memory form of one step's completion record.
// Results are kept as live values and serialized only at snapshot time,
// so a non-serializable result fails the checkpoint, never the step.
type ledgerEntry struct {
	index     int
	name      string
	completed bool
	result    any
	hasResult bool
	// raw holds the serialized result for entries restored from a
	// checkpoint, where the original Go type is gone.
	raw json.RawMessage
}

// ledger is the ordered record of step completion and results for one
// run. Owned by the runner, written by the executor.
type ledger struct {
	entries []ledgerEntry
}

func newLedger() *ledger {
	return &ledger{}
}

// record marks the step at index as completed with the given result.
// Overwrites a restored entry at the same position if the step was
// re-run.
func (l *ledger) record(index int, name string, result any) {
	entry := ledgerEntry{
		index:     index,
		name:      name,
		completed: true,
		result:    result,
		hasResult: result != nil,
	}

	for i := range l.entries {
		if l.entries[i].index == index {
			l.entries[i] = entry
			return
		}
	}
	l.entries = append(l.entries, entry)
}

// completedEntry returns the entry at index if it is marked complete.
func (l *ledger) completedEntry(index int) (ledgerEntry, bool) {
	for _, entry := range l.entries {
		if entry.index == index && entry.completed {
			return entry, true
		}
	}
	return ledgerEntry{}, false
}

// storedResult returns the recorded result for a restored or re-run
// entry. Restored results come back as decoded JSON values (maps,
// slices, float64, string, bool), not the original Go types.
func (e ledgerEntry) storedResult() (any, error) {
	if !e.completed {
		return nil, nil
	}
	if e.raw != nil {
		var v any
		if err := json.Unmarshal(e.raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode stored result for step %d (%s): %w", e.index, e.name, err)
		}
		return v, nil
	}
	return e.result, nil
}

// snapshot serializes the ledger for a checkpoint. A result that cannot
// be represented fails the snapshot with *container.SerializationError
// rather than being dropped.
func (l *ledger) snapshot() ([]checkpoint.LedgerEntry, error) {
	entries := make([]checkpoint.LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		entry := checkpoint.LedgerEntry{
			Index:     e.index,
			Name:      e.name,
			Completed: e.completed,
		}

		switch {
		case e.raw != nil:
			entry.Result = e.raw
		case e.hasResult:
			raw, err := json.Marshal(e.result)
			if err != nil {
				return nil, &container.SerializationError{
					Key:   container.Name(e.name),
					Cause: fmt.Errorf("step result: %w", err),
				}
			}
			entry.Result = raw
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

// restore replaces the ledger contents with entries loaded from a
// checkpoint.
func (l *ledger) restore(entries []checkpoint.LedgerEntry) {
	l.entries = make([]ledgerEntry, 0, len(entries))
	for _, e := range entries {
		l.entries = append(l.entries, ledgerEntry{
			index:     e.Index,
			name:      e.Name,
			completed: e.Completed,
			hasResult: e.Result != nil,
			raw:       e.Result,
		})
	}
}
