// Package store keeps a SQLite ledger of experiment runs so that an
// interrupted campaign can resume where it stopped.
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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Status of a run row.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run identifies one experiment execution.
type Run struct {
	Experiment string
	Robots     int
	Targets    int
	Repetition int
	Seed       int64
	LogPath    string
	Worker     int
}

// Key identifies the run independently of attempts:
// experiment/robots/targets/rep/seed.
func (r Run) Key() string {
	return fmt.Sprintf("%s/%d/%d/%d/%d", r.Experiment, r.Robots, r.Targets, r.Repetition, r.Seed)
}

// Record is a ledger row.
type Record struct {
	ID string
	Run
	Status     Status
	Attempts   int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Filter restricts List.
type Filter struct {
	Experiment string
	Status     Status
	Limit      int
}

// Store is the SQLite-backed run ledger.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writers serialize on the single connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		run_key TEXT NOT NULL,
		experiment TEXT NOT NULL,
		robots INTEGER NOT NULL,
		targets INTEGER NOT NULL,
		repetition INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		log_path TEXT NOT NULL,
		worker INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		duration_ns INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_key ON runs(run_key, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records the start of a run and returns its id.
func (s *Store) Begin(ctx context.Context, r Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, run_key, experiment, robots, targets, repetition, seed, log_path, worker, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Key(), r.Experiment, r.Robots, r.Targets, r.Repetition, r.Seed, r.LogPath, r.Worker,
		string(StatusRunning), s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// Finish records the outcome of a run. runErr may be nil.
func (s *Store) Finish(ctx context.Context, id string, status Status, attempts int, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var started int64
	err := s.db.QueryRowContext(ctx, `SELECT started_at FROM runs WHERE id = ?`, id).Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read run: %w", err)
	}

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	finished := s.now().UnixNano()
	_, err = s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, attempts = ?, error = ?, finished_at = ?, duration_ns = ?
		WHERE id = ?`,
		string(status), attempts, msg, finished, finished-started, id)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// Completed reports whether the latest row for key completed successfully.
func (s *Store) Completed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM runs WHERE run_key = ?
		ORDER BY started_at DESC, rowid DESC LIMIT 1`, key).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query run status: %w", err)
	}
	return Status(status) == StatusCompleted, nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	records, err := s.query(ctx, `WHERE id = ?`, []any{id}, 1)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return records[0], nil
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	var where []string
	var args []any
	if f.Experiment != "" {
		where = append(where, "experiment = ?")
		args = append(args, f.Experiment)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	return s.query(ctx, clause, args, f.Limit)
}

func (s *Store) query(ctx context.Context, clause string, args []any, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := `SELECT id, experiment, robots, targets, repetition, seed, log_path, worker,
		status, attempts, error, started_at, finished_at, duration_ns
		FROM runs ` + clause + ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var status string
		var started, finished, duration int64
		if err := rows.Scan(&rec.ID, &rec.Experiment, &rec.Robots, &rec.Targets, &rec.Repetition,
			&rec.Seed, &rec.LogPath, &rec.Worker, &status, &rec.Attempts, &rec.Error,
			&started, &finished, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Status = Status(status)
		rec.StartedAt = time.Unix(0, started)
		if finished > 0 {
			rec.FinishedAt = time.Unix(0, finished)
		}
		rec.Duration = time.Duration(duration)
		records = append(records, rec)
	}
	return records, rows.Err()
}
