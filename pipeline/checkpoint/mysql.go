package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It keeps checkpoints in a relational database. Designed for:
//   - Runs whose checkpoints must survive the machine they ran on
//   - Shared lab infrastructure where many runs archive to one server
//   - Audit trails over experiment history
//
// MySQLStore uses connection pooling and transactions; the
// OverwriteLatest policy replaces the canonical row transactionally so
// a crash mid-save never corrupts the latest checkpoint.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/experiments
//	user:password@tcp(127.0.0.1:3306)/experiments?parseTime=true
//
// Never hardcode credentials in source; read the DSN from the
// environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	store, err := checkpoint.NewMySQLStore(dsn)
//
// The store automatically creates the required table and configures
// connection pooling.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store := &MySQLStore{db: db}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS pipeline_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL DEFAULT '',
			label VARCHAR(255) NOT NULL DEFAULT '',
			canonical TINYINT NOT NULL DEFAULT 0,
			payload JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_label (label),
			INDEX idx_canonical (canonical)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create pipeline_checkpoints table: %w", err)
	}
	return nil
}

// Save persists a checkpoint and returns its row-id selector
// (Incremental) or Latest (OverwriteLatest).
func (m *MySQLStore) Save(ctx context.Context, cp *Checkpoint, policy NamingPolicy) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", fmt.Errorf("store is closed")
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	switch policy {
	case Incremental:
		result, err := m.db.ExecContext(ctx,
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
		tx, err := m.db.BeginTx(ctx, nil)
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
func (m *MySQLStore) Load(ctx context.Context, selector string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
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
	err := m.db.QueryRowContext(ctx, query, args...).Scan(&payload)
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

// Close releases the underlying database connections. The store cannot
// be used after Close.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
