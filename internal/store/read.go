package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/nbcheck/internal/harness"
)

// TestOutcome is one past result of a single cell test.
type TestOutcome struct {
	RunID     string `json:"run_id"`
	RunSeq    int64  `json:"run_seq"`
	Pass      bool   `json:"pass"`
	ErrorName string `json:"error_name,omitempty"`
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const runColumns = `seq, id, started_at, pattern, server, outcome, passed, failed, skipped`

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		startedAt string
		outcome   string
	)
	err := row.Scan(&run.Seq, &run.ID, &startedAt, &run.Pattern, &run.Server, &outcome, &run.Passed, &run.Failed, &run.Skipped)
	if err != nil {
		return run, err
	}
	run.Outcome = Outcome(outcome)

	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return run, fmt.Errorf("run %s: started_at: %w", run.ID, err)
	}
	return run, nil
}

// ReadRuns returns the most recent runs, newest first. limit <= 0 returns
// every run.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ReadRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a run and its notebook results, files ordered by path and
// cells by code cell index. Returns ErrRunNotFound for unknown IDs.
func (s *Store) ReadRun(ctx context.Context, runID string) (Run, []*harness.FileResult, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return run, nil, fmt.Errorf("read run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return run, nil, fmt.Errorf("read run %s: %w", runID, err)
	}

	files, err := s.readFiles(ctx, runID)
	if err != nil {
		return run, nil, err
	}
	if err := s.readCells(ctx, runID, files); err != nil {
		return run, nil, err
	}
	return run, files, nil
}

// readFiles returns the file results of a run without their cells.
func (s *Store) readFiles(ctx context.Context, runID string) ([]*harness.FileResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, kernel, skipped, skip_reason
		FROM files
		WHERE run_id = ?
		ORDER BY path COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	files := []*harness.FileResult{}
	for rows.Next() {
		var (
			path, kernel, reason string
			skipped              bool
		)
		if err := rows.Scan(&path, &kernel, &skipped, &reason); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f := harness.NewFileResult(path)
		f.Kernel = kernel
		if skipped {
			f.Skip(reason)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

// readCells adds the run's cell results to files.
func (s *Store) readCells(ctx context.Context, runID string, files []*harness.FileResult) error {
	byPath := make(map[string]*harness.FileResult, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT test_id, path, idx, pass, error_name, error, duration_ns, trace
		FROM cells
		WHERE run_id = ?
		ORDER BY path COLLATE BINARY ASC, idx ASC
	`, runID)
	if err != nil {
		return fmt.Errorf("query cells: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c        harness.CellResult
			path     string
			duration int64
			trace    string
		)
		if err := rows.Scan(&c.ID, &path, &c.Index, &c.Pass, &c.ErrorName, &c.Error, &duration, &trace); err != nil {
			return fmt.Errorf("scan cell: %w", err)
		}
		c.Duration = time.Duration(duration)
		c.Trace, err = unmarshalTrace(trace)
		if err != nil {
			return fmt.Errorf("cell %s: %w", c.ID, err)
		}
		if f, ok := byPath[path]; ok {
			f.Add(c)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cells: %w", err)
	}
	return nil
}

// ReadTestHistory returns the recorded outcomes of one cell test, newest
// run first. limit <= 0 returns all of them.
//
// Returns an empty slice (not nil) if the test never ran.
func (s *Store) ReadTestHistory(ctx context.Context, testID string, limit int) ([]TestOutcome, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.seq, c.pass, c.error_name
		FROM cells c
		JOIN runs r ON c.run_id = r.id
		WHERE c.test_id = ?
		ORDER BY r.seq DESC
		LIMIT ?
	`, testID, limit)
	if err != nil {
		return nil, fmt.Errorf("query test history: %w", err)
	}
	defer rows.Close()

	outcomes := []TestOutcome{}
	for rows.Next() {
		var o TestOutcome
		if err := rows.Scan(&o.RunID, &o.RunSeq, &o.Pass, &o.ErrorName); err != nil {
			return nil, fmt.Errorf("scan test outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test history: %w", err)
	}
	return outcomes, nil
}
