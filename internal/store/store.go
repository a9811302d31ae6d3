// Package store is the persistence layer: a single SQLite database holding
// tasks, usage records, activity samples, the quota window, and daemon
// metadata. All other components mutate state through this API; every write
// is durable before the call returns.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrTaskNotFound is returned when a task id does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrDuplicateTask is returned when (source, source_ref) already exists.
	ErrDuplicateTask = errors.New("task with this source_ref already exists")
	// ErrTaskBusy is returned when an operation is rejected because the
	// task is currently running.
	ErrTaskBusy = errors.New("task is currently running")
	// ErrIllegalTransition is returned for a status change the lifecycle
	// does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and initializes the schema.
// WAL mode keeps concurrent CLI writers (task add, quota correct) from
// blocking the daemon.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY between the
	// daemon's own goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
