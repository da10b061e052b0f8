// Package history keeps a local record of scan runs so operators can answer
// "when was this branch last scanned, and how did it go" without trawling
// logs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded branch scan.
type Run struct {
	RunID      string
	Repository string
	Branch     string
	Commit     string
	FilesFed   int
	Duration   time.Duration
	Outcome    string
	StartedAt  time.Time
}

// Store records scan runs in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens or creates the history database. Use ":memory:" for an
// in-memory store.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scan_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		repository TEXT NOT NULL,
		branch TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		files_fed INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		started_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scan_runs_repository ON scan_runs(repository);
	CREATE INDEX IF NOT EXISTS idx_scan_runs_started_at ON scan_runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun appends one run.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO scan_runs (run_id, repository, branch, commit_hash, files_fed, duration_ms, outcome, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		run.RunID, run.Repository, run.Branch, run.Commit, run.FilesFed,
		run.Duration.Milliseconds(), run.Outcome, run.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs for a repository, newest first.
func (s *Store) RecentRuns(ctx context.Context, repository string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, repository, branch, commit_hash, files_fed, duration_ms, outcome, started_at FROM scan_runs WHERE repository = ? ORDER BY id DESC LIMIT ?",
		repository, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query scan runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var durationMS, startedAt int64
		if err := rows.Scan(&run.RunID, &run.Repository, &run.Branch, &run.Commit,
			&run.FilesFed, &durationMS, &run.Outcome, &startedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.StartedAt = time.Unix(startedAt, 0).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastRun returns the newest run for one repository branch, or nil when the
// branch has never been scanned.
func (s *Store) LastRun(ctx context.Context, repository, branch string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT run_id, repository, branch, commit_hash, files_fed, duration_ms, outcome, started_at FROM scan_runs WHERE repository = ? AND branch = ? ORDER BY id DESC LIMIT 1",
		repository, branch,
	)

	var run Run
	var durationMS, startedAt int64
	err := row.Scan(&run.RunID, &run.Repository, &run.Branch, &run.Commit,
		&run.FilesFed, &durationMS, &run.Outcome, &startedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	return &run, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
