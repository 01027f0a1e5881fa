package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"driftbench/internal/logging"
	"driftbench/internal/runner"
)

// RunStore indexes runs and their trajectories in SQLite so past runs can
// be listed and queried without re-scanning JSONL artifacts. The JSONL
// files remain the source of truth; the store is a derived index.
type RunStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewRunStore opens (or creates) the run index database at the given path.
func NewRunStore(path string) (*RunStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Storage("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Storage("failed to set sqlite journal_mode=WAL: %v", err)
	}

	store := &RunStore{db: db, dbPath: path}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Storage("run index opened at %s", path)
	return store, nil
}

func (s *RunStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		run_name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		suite_hash TEXT,
		git_commit TEXT,
		seed INTEGER,
		status TEXT NOT NULL DEFAULT 'running'
	);

	CREATE TABLE IF NOT EXISTS trajectories (
		run_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		category TEXT,
		condition TEXT NOT NULL,
		n_turns INTEGER NOT NULL,
		rewrites INTEGER NOT NULL DEFAULT 0,
		complete INTEGER NOT NULL DEFAULT 1,
		fail_reason TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (run_id, scenario_id, condition),
		FOREIGN KEY (run_id) REFERENCES runs(run_id)
	);

	CREATE INDEX IF NOT EXISTS idx_trajectories_run ON trajectories(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create run index schema: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// RunRecord is one row of the runs index.
type RunRecord struct {
	RunID     string
	RunName   string
	CreatedAt time.Time
	SuiteHash string
	GitCommit string
	Seed      int64
	Status    string
}

// RecordRun registers a new run as running.
func (s *RunStore) RecordRun(rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, run_name, created_at, suite_hash, git_commit, seed, status)
		VALUES (?, ?, ?, ?, ?, ?, 'running')`,
		rec.RunID, rec.RunName, rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.SuiteHash, rec.GitCommit, rec.Seed)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// SetRunStatus updates a run's lifecycle status (running, done, failed).
func (s *RunStore) SetRunStatus(runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE runs SET status = ? WHERE run_id = ?`, status, runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown run %s", runID)
	}
	return nil
}

// RecordTrajectory indexes one finished trajectory.
func (s *RunStore) RecordTrajectory(t *runner.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	complete := 0
	if t.Complete {
		complete = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO trajectories
			(run_id, scenario_id, category, condition, n_turns, rewrites, complete, fail_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.ScenarioID, t.Category, t.Condition,
		len(t.Turns), t.Rewrites(), complete, t.FailReason,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record trajectory: %w", err)
	}
	return nil
}

// ListRuns returns all indexed runs, newest first.
func (s *RunStore) ListRuns() ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT run_id, run_name, created_at, suite_hash, git_commit, seed, status
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var created string
		if err := rows.Scan(&rec.RunID, &rec.RunName, &created,
			&rec.SuiteHash, &rec.GitCommit, &rec.Seed, &rec.Status); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TrajectoryCounts summarizes a run's indexed trajectories.
type TrajectoryCounts struct {
	Total      int
	Incomplete int
	Rewrites   int
}

// CountTrajectories returns totals for one run.
func (s *RunStore) CountTrajectories(runID string) (TrajectoryCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c TrajectoryCounts
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN complete = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(rewrites), 0)
		FROM trajectories WHERE run_id = ?`, runID).
		Scan(&c.Total, &c.Incomplete, &c.Rewrites)
	if err != nil {
		return c, fmt.Errorf("failed to count trajectories: %w", err)
	}
	return c, nil
}

// Sink persists finished trajectories to both the JSONL transcript log and
// the SQLite run index. It implements runner.Sink.
type Sink struct {
	writer *TranscriptWriter
	store  *RunStore
}

// NewSink builds a sink for one run. store may be nil to skip indexing.
func NewSink(runPath string, store *RunStore) *Sink {
	return &Sink{writer: NewTranscriptWriter(runPath), store: store}
}

// SaveTranscript appends the trajectory to transcripts.jsonl and, when an
// index is attached, records it there as well.
func (s *Sink) SaveTranscript(t *runner.Transcript) error {
	if err := s.writer.SaveTranscript(t); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.RecordTrajectory(t); err != nil {
			return err
		}
	}
	return nil
}
