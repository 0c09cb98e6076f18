// Package history persists a one-row-per-run ledger so past pipeline
// outcomes survive process restarts and can be listed from the CLI.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is the durable record of one pipeline run.
type Entry struct {
	RunID     string
	State     string
	Started   time.Time
	Finished  time.Time
	Artifacts int
	Failed    []string
	Error     string
}

// Store is a SQLite-backed run ledger.
// Use ":memory:" for an in-memory database, or a file path for persistence.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the ledger at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL,
		artifacts INTEGER NOT NULL,
		failed TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts or replaces the entry for a run. Failed target labels are
// stored as JSON so labels containing separators round-trip intact.
func (s *Store) Record(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed string
	if len(e.Failed) > 0 {
		data, err := json.Marshal(e.Failed)
		if err != nil {
			return fmt.Errorf("encode failed targets: %w", err)
		}
		failed = string(data)
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO runs (run_id, state, started, finished, artifacts, failed, error) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.RunID, e.State, e.Started.Unix(), e.Finished.Unix(), e.Artifacts,
		failed, e.Error,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT run_id, state, started, finished, artifacts, failed, error FROM runs ORDER BY started DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, finished int64
			failed            string
		)
		if err := rows.Scan(&e.RunID, &e.State, &started, &finished, &e.Artifacts, &failed, &e.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Started = time.Unix(started, 0)
		e.Finished = time.Unix(finished, 0)
		if failed != "" {
			if err := json.Unmarshal([]byte(failed), &e.Failed); err != nil {
				return nil, fmt.Errorf("decode failed targets: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
