package checkpoint

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped in *LoadError) when a requested
// checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// Latest is the selector resolving to the most recent checkpoint under
// the store's naming scheme.
const Latest = "latest"

// NamingPolicy controls how saved checkpoints are named.
type NamingPolicy int

const (
	// Incremental gives each save a fresh, monotonically ordered name.
	// Earlier checkpoints are never overwritten.
	Incremental NamingPolicy = iota

	// OverwriteLatest always replaces a single canonical "latest"
	// checkpoint, keeping exactly one snapshot on disk.
	OverwriteLatest
)

// String implements fmt.Stringer.
func (p NamingPolicy) String() string {
	switch p {
	case Incremental:
		return "incremental"
	case OverwriteLatest:
		return "overwrite-latest"
	default:
		return fmt.Sprintf("NamingPolicy(%d)", int(p))
	}
}

// Store persists and reloads pipeline checkpoints.
//
// Implementations:
//   - FileStore: one JSON file per checkpoint (see file.go)
//   - MemStore: in-memory, for tests (see memory.go)
//   - SQLiteStore: single-file durable database (see sqlite.go)
//   - MySQLStore: shared relational database (see mysql.go)
type Store interface {
	// Save persists a checkpoint under the given naming policy and
	// returns the selector under which it can be reloaded.
	//
	// Save is atomic from the caller's perspective: a crash during
	// write must never leave a corrupt checkpoint visible under a
	// canonical name.
	Save(ctx context.Context, cp *Checkpoint, policy NamingPolicy) (string, error)

	// Load retrieves a checkpoint. The selector is either Latest, a
	// checkpoint label, or a store-specific identifier returned by
	// Save (a file path, a row id).
	//
	// Fails with *LoadError if the target is missing, unreadable, or
	// structurally invalid. There is no automatic fallback to a
	// different checkpoint.
	Load(ctx context.Context, selector string) (*Checkpoint, error)
}

// LoadError is returned when a requested checkpoint is missing,
// unreadable, or structurally invalid.
type LoadError struct {
	// Selector is the selector that failed to load.
	Selector string

	// Cause is the underlying error. Wraps ErrNotFound for missing
	// checkpoints.
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load checkpoint %q: %v", e.Selector, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *LoadError) Unwrap() error {
	return e.Cause
}
