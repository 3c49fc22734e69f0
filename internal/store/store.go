// Package store provides SQLite-backed persistence for per-workspace state
// that must survive process restarts: resume retry bookkeeping and the
// user-controlled auto-retry flag.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// RetryState tracks consecutive resume failures for a workspace.
type RetryState struct {
	Attempt        int   `json:"attempt"`
	RetryStartTime int64 `json:"retryStartTime"` // Unix ms of the last failed attempt
}

// Store is a key-value store over a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the state database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func retryKey(workspaceID string) string     { return "retry:" + workspaceID }
func autoRetryKey(workspaceID string) string { return "auto-retry:" + workspaceID }

// RetryState returns the persisted retry state for a workspace, or nil if
// none is stored. A corrupt value is logged and treated as absent, never
// surfaced as an error to the caller.
func (s *Store) RetryState(workspaceID string) (*RetryState, error) {
	raw, ok, err := s.get(retryKey(workspaceID))
	if err != nil || !ok {
		return nil, err
	}

	var st RetryState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		log.Printf("[store] corrupt retry state for workspace %s, treating as absent: %v", workspaceID, err)
		return nil, nil
	}
	return &st, nil
}

// SetRetryState persists the retry state for a workspace.
func (s *Store) SetRetryState(workspaceID string, st RetryState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.set(retryKey(workspaceID), string(raw))
}

// ClearRetryState removes the retry state for a workspace, so the next
// failure starts fresh at attempt 0.
func (s *Store) ClearRetryState(workspaceID string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, retryKey(workspaceID))
	return err
}

// AutoRetry returns the persisted auto-retry flag for a workspace.
// Defaults to true when nothing is stored.
func (s *Store) AutoRetry(workspaceID string) (bool, error) {
	raw, ok, err := s.get(autoRetryKey(workspaceID))
	if err != nil {
		return true, err
	}
	if !ok {
		return true, nil
	}
	return raw != "0", nil
}

// SetAutoRetry persists the auto-retry flag for a workspace.
func (s *Store) SetAutoRetry(workspaceID string, enabled bool) error {
	v := "1"
	if !enabled {
		v = "0"
	}
	return s.set(autoRetryKey(workspaceID), v)
}

func (s *Store) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
