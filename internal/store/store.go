// Package store owns the SQLite index: connection lifecycle, schema,
// transient-error retry, and the queries the pipeline needs. Transient
// failures (locked database, disk I/O hiccups on network mounts) are
// retried with a reconnect between attempts; everything else surfaces
// immediately.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"photoatlas/internal/logging"
	"photoatlas/internal/metrics"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 1 * time.Second
)

// Manager wraps the SQLite handle with reconnection support. All
// methods are safe for use from a single pipeline goroutine; the mutex
// guards the handle across reconnects.
type Manager struct {
	mu         sync.Mutex
	db         *sql.DB
	dbPath     string
	maxRetries int
	retryDelay time.Duration
}

// New creates an unconnected manager for the database file at dbPath.
func New(dbPath string) *Manager {
	return &Manager{
		dbPath:     dbPath,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Connect opens the database, verifies it responds, and ensures the
// schema exists. The parent directory is created if missing.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connectLocked(ctx); err != nil {
		return err
	}
	return m.initializeLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if dir := filepath.Dir(m.dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create database directory: %w", err)
		}
	}

	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", m.dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return fmt.Errorf("store: open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("Failed to close database after ping failure: %v", closeErr)
		}
		return fmt.Errorf("store: connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	m.db = db
	logging.Debug("Database connection established: %s", m.dbPath)
	return nil
}

func (m *Manager) initializeLocked(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS libraries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		source_dirs TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		last_indexed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS photos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		latitude REAL,
		longitude REAL,
		taken_at TEXT,
		fingerprint TEXT,
		library_id INTEGER,
		marker_data TEXT,
		FOREIGN KEY (library_id) REFERENCES libraries(id)
	);

	CREATE INDEX IF NOT EXISTS idx_photos_coords ON photos(latitude, longitude);
	CREATE INDEX IF NOT EXISTS idx_photos_library ON photos(library_id);
	`
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: initialize schema: %w", err)
	}
	return nil
}

// Close releases the database handle. Safe to call when disconnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	logging.Debug("Database connection closed")
	return nil
}

// transient error signatures seen from SQLite under lock contention
// and flaky storage. Matched alongside the driver's error codes because
// wrapped errors sometimes arrive as bare strings.
var transientSignatures = []string{
	"database is locked",
	"disk I/O error",
	"not a database",
}

// IsTransient reports whether an error is worth a reconnect-and-retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
			return true
		}
	}

	msg := err.Error()
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsConstraint reports whether an error is a uniqueness or other
// constraint violation, which batch insertion treats as a per-row skip
// rather than a failure.
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// WithRetry runs fn against the live handle, reconnecting and retrying
// on transient errors with a linearly increasing delay. Non-transient
// errors return immediately.
func (m *Manager) WithRetry(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		m.mu.Lock()
		db := m.db
		m.mu.Unlock()
		if db == nil {
			if err := m.reconnect(ctx); err != nil {
				return err
			}
			m.mu.Lock()
			db = m.db
			m.mu.Unlock()
		}

		err := fn(db)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		lastErr = err
		logging.Warn("Transient database error on %s, attempt %d/%d: %v", op, attempt, m.maxRetries, err)
		metrics.StoreRetriesTotal.Inc()

		if attempt == m.maxRetries {
			break
		}

		select {
		case <-time.After(m.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := m.reconnect(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("store: %s failed after %d attempts: %w", op, m.maxRetries, lastErr)
}

func (m *Manager) reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			logging.Error("Error closing connection before reconnect: %v", err)
		}
		m.db = nil
	}
	metrics.StoreReconnectsTotal.Inc()
	logging.Info("Reconnecting to database %s", m.dbPath)
	return m.connectLocked(ctx)
}
