// Package history stores the verdict of every run in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/hap-runner/pkg/core"
)

// FileName is the database file created under the data directory.
const FileName = "history.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	run_id        TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	target        TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	failure_count INTEGER NOT NULL DEFAULT 0,
	failed_lines  TEXT NOT NULL DEFAULT '[]',
	match_score   REAL,
	error         TEXT NOT NULL DEFAULT '',
	report_dir    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`

// Run is one recorded execution of the automation sequence.
type Run struct {
	RunID        string
	StartedAt    time.Time
	Duration     time.Duration
	Target       string
	Status       string
	FailureCount int
	FailedLines  []string
	MatchScore   *float64
	Error        string
	ReportDir    string
}

// Passed reports whether the run completed without failure lines.
func (r Run) Passed() bool {
	return r.Status == core.StatusPassed.String()
}

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, core.ErrIO.WithCause(err).WithMessage("create history dir")
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts or replaces a run.
func (s *Store) Record(ctx context.Context, r Run) error {
	lines := r.FailedLines
	if lines == nil {
		lines = []string{}
	}
	encoded, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	var score sql.NullFloat64
	if r.MatchScore != nil {
		score = sql.NullFloat64{Float64: *r.MatchScore, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs(run_id, started_at, duration_ms, target, status, failure_count, failed_lines, match_score, error, report_dir)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.StartedAt.UnixMilli(), r.Duration.Milliseconds(), r.Target, r.Status,
		r.FailureCount, string(encoded), score, r.Error, r.ReportDir)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT run_id, started_at, duration_ms, target, status, failure_count, failed_lines, match_score, error, report_dir
		FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_at, duration_ms, target, status, failure_count, failed_lines, match_score, error, report_dir
		 FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r          Run
		startedMS  int64
		durationMS int64
		lines      string
		score      sql.NullFloat64
	)
	if err := sc.Scan(&r.RunID, &startedMS, &durationMS, &r.Target, &r.Status,
		&r.FailureCount, &lines, &score, &r.Error, &r.ReportDir); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(startedMS)
	r.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(lines), &r.FailedLines); err != nil {
		return Run{}, fmt.Errorf("decode failed lines of %s: %w", r.RunID, err)
	}
	if score.Valid {
		v := score.Float64
		r.MatchScore = &v
	}
	return r, nil
}
