package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Short-lived runs where persistence isn't required
//
// MemStore is thread-safe. Checkpoints are deep-copied on save and load
// so callers can't mutate a stored snapshot, preserving the read-once-
// written contract of the file-based stores.
//
// Data is lost when the process terminates; for durable checkpoints use
// FileStore, SQLiteStore, or MySQLStore.
type MemStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint // selector -> checkpoint
	order       []string               // selectors in save order
	seq         int
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		checkpoints: make(map[string]*Checkpoint),
	}
}

// Save stores a deep copy of the checkpoint and returns its selector.
func (m *MemStore) Save(ctx context.Context, cp *Checkpoint, policy NamingPolicy) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	copied, err := copyCheckpoint(cp)
	if err != nil {
		return "", fmt.Errorf("failed to copy checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var selector string
	switch policy {
	case OverwriteLatest:
		selector = Latest
	case Incremental:
		m.seq++
		selector = fmt.Sprintf("%s%06d", incrPrefix, m.seq)
	default:
		return "", fmt.Errorf("unknown naming policy %v", policy)
	}

	// Keep order reflecting save recency so Latest resolves to the
	// most recent save even when policies are mixed.
	for i, s := range m.order {
		if s == selector {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, selector)
	m.checkpoints[selector] = copied

	return selector, nil
}

// Load retrieves a deep copy of a stored checkpoint.
//
// Latest resolves to the most recently saved checkpoint regardless of
// policy. Any other selector must match a selector returned by Save or
// a checkpoint label.
func (m *MemStore) Load(ctx context.Context, selector string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := m.lookup(selector)
	if cp == nil {
		return nil, &LoadError{Selector: selector, Cause: ErrNotFound}
	}

	copied, err := copyCheckpoint(cp)
	if err != nil {
		return nil, &LoadError{Selector: selector, Cause: err}
	}
	return copied, nil
}

// Len returns the number of stored checkpoints.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.checkpoints)
}

func (m *MemStore) lookup(selector string) *Checkpoint {
	if selector == Latest {
		if n := len(m.order); n > 0 {
			return m.checkpoints[m.order[n-1]]
		}
		return nil
	}

	if cp, ok := m.checkpoints[selector]; ok {
		return cp
	}

	// Fall back to label lookup, newest first.
	for i := len(m.order) - 1; i >= 0; i-- {
		if cp := m.checkpoints[m.order[i]]; cp.Label == selector {
			return cp
		}
	}
	return nil
}

// copyCheckpoint deep-copies a checkpoint via a JSON round trip, the
// same representation durable stores use.
func copyCheckpoint(cp *Checkpoint) (*Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	var copied Checkpoint
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}
