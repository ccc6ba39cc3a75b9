package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps checkpoints in a single-file database. Designed for:
//   - Local runs requiring durable checkpoints without a file tree
//   - Development and testing with zero setup (":memory:")
//   - Prototyping before migrating to a shared database
//
// The store uses WAL mode for concurrent reads and transactional writes,
// which also gives the atomic-save guarantee: a crash mid-write rolls
// the transaction back, leaving the previous checkpoint intact.
//
// Schema:
//   - pipeline_checkpoints: one row per checkpoint, JSON payload
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./run.db" - file in current directory
//   - "/tmp/experiment.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and schema, enables
// WAL mode, and configures a busy timeout.
//
// Example:
//
//	store, err := checkpoint.NewSQLiteStore("./run.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &SQLiteStore{
		db:   db,
		path: path,
	}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS pipeline_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			canonical INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create pipeline_checkpoints table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_label ON pipeline_checkpoints(label)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_label: %w", err)
	}
	// At most one canonical "latest" row.
	if _, err := s.db.ExecContext(ctx, "CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_canonical ON pipeline_checkpoints(canonical) WHERE canonical = 1"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_canonical: %w", err)
	}

	return nil
}

// Save persists a checkpoint and returns its row-id selector
// (Incremental) or Latest (OverwriteLatest).
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint, policy NamingPolicy) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	switch policy {
	case Incremental:
		result, err := s.db.ExecContext(ctx,
			"INSERT INTO pipeline_checkpoints (run_id, label, canonical, payload) VALUES (?, ?, 0, ?)",
			cp.RunID, cp.Label, string(payload))
		if err != nil {
			return "", fmt.Errorf("failed to insert checkpoint: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return "", fmt.Errorf("failed to get checkpoint id: %w", err)
		}
		return strconv.FormatInt(id, 10), nil

	case OverwriteLatest:
		// Replace the canonical row transactionally so a crash never
		// leaves zero or two "latest" checkpoints.
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return "", fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM pipeline_checkpoints WHERE canonical = 1"); err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("failed to clear canonical checkpoint: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO pipeline_checkpoints (run_id, label, canonical, payload) VALUES (?, ?, 1, ?)",
			cp.RunID, cp.Label, string(payload)); err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("failed to insert canonical checkpoint: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit checkpoint: %w", err)
		}
		return Latest, nil

	default:
		return "", fmt.Errorf("unknown naming policy %v", policy)
	}
}

// Load retrieves a checkpoint by selector: Latest, a numeric row id
// returned by Save, or a label (newest row wins).
func (s *SQLiteStore) Load(ctx context.Context, selector string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &LoadError{Selector: selector, Cause: fmt.Errorf("store is closed")}
	}

	var query string
	var args []any
	switch {
	case selector == Latest:
		query = "SELECT payload FROM pipeline_checkpoints ORDER BY id DESC LIMIT 1"
	case isNumeric(selector):
		query = "SELECT payload FROM pipeline_checkpoints WHERE id = ?"
		args = append(args, selector)
	default:
		query = "SELECT payload FROM pipeline_checkpoints WHERE label = ? ORDER BY id DESC LIMIT 1"
		args = append(args, selector)
	}

	var payload string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &LoadError{Selector: selector, Cause: ErrNotFound}
	}
	if err != nil {
		return nil, &LoadError{Selector: selector, Cause: err}
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, &LoadError{Selector: selector, Cause: fmt.Errorf("invalid checkpoint payload: %w", err)}
	}
	if err := cp.Validate(); err != nil {
		return nil, &LoadError{Selector: selector, Cause: fmt.Errorf("invalid checkpoint payload: %w", err)}
	}

	return &cp, nil
}

// Close releases the underlying database connection. The store cannot
// be used after Close.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
