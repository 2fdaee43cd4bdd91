package progress

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists relay progress to a local database file so a restart
// resumes from the recorded height instead of re-scanning, and the
// no-reprocessing guarantee survives across runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path. The
// progress row is seeded with startHeight only when no prior state exists.
func NewSQLiteStore(path string, startHeight uint64) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping progress db at %s: %w", path, err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relay_progress (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_height INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS processed_events (
			event_key TEXT PRIMARY KEY
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to init progress schema: %w", err)
		}
	}
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO relay_progress (id, last_height) VALUES (1, ?)`,
		startHeight,
	); err != nil {
		return nil, fmt.Errorf("failed to seed progress row: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LastProcessedHeight() (uint64, error) {
	var height uint64
	err := s.db.QueryRow(`SELECT last_height FROM relay_progress WHERE id = 1`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("failed to read last processed height: %w", err)
	}
	return height, nil
}

func (s *SQLiteStore) IsProcessed(key string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM processed_events WHERE event_key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up event key %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkProcessed(key string) error {
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO processed_events (event_key) VALUES (?)`, key,
	); err != nil {
		return fmt.Errorf("failed to mark event key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) AdvanceTo(height uint64) error {
	current, err := s.LastProcessedHeight()
	if err != nil {
		return err
	}
	if height < current {
		return &OrderingViolation{Have: current, Requested: height}
	}
	if _, err := s.db.Exec(
		`UPDATE relay_progress SET last_height = ? WHERE id = 1`, height,
	); err != nil {
		return fmt.Errorf("failed to advance to height %d: %w", height, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
