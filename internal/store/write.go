package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/nbcheck/internal/harness"
)

// Outcome is the final state of a run.
type Outcome string

const (
	OutcomeRunning Outcome = "running" // not finished, or interrupted
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeError   Outcome = "error" // the run could not complete
)

// Run is one invocation of the run command.
type Run struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"` // assigned by BeginRun
	StartedAt time.Time `json:"started_at"`
	Pattern   string    `json:"pattern"`
	Server    string    `json:"server,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
}

// Finished reports whether the run recorded its outcome.
func (r Run) Finished() bool {
	return r.Outcome != OutcomeRunning && r.Outcome != ""
}

// ErrRunNotFound is returned for run IDs the store has never seen.
var ErrRunNotFound = errors.New("run not found")

// BeginRun inserts a run with outcome running and returns it with Seq set.
// The run ID must be unique.
func (s *Store) BeginRun(ctx context.Context, run Run) (Run, error) {
	run.Outcome = OutcomeRunning
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, pattern, server, outcome)
		VALUES (?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.Pattern,
		run.Server,
		string(run.Outcome),
	)
	if err != nil {
		return run, fmt.Errorf("begin run: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return run, fmt.Errorf("begin run: last insert id: %w", err)
	}
	run.Seq = seq
	return run, nil
}

// WriteFile records one notebook's result and its cells under runID.
// Uses ON CONFLICT DO NOTHING for idempotency - writing the same file twice
// keeps the first record. The run must exist (foreign key constraint).
func (s *Store) WriteFile(ctx context.Context, runID string, file *harness.FileResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write file: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (run_id, path, kernel, skipped, skip_reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO NOTHING
	`,
		runID,
		file.Path,
		file.Kernel,
		file.Skipped,
		file.SkipReason,
	)
	if err != nil {
		return fmt.Errorf("write file %s: %w", file.Path, err)
	}

	for _, c := range file.Cells {
		trace, err := marshalTrace(c.Trace)
		if err != nil {
			return fmt.Errorf("write cell %s: %w", c.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cells (run_id, test_id, path, idx, pass, error_name, error, duration_ns, trace)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, test_id) DO NOTHING
		`,
			runID,
			c.ID,
			file.Path,
			c.Index,
			c.Pass,
			c.ErrorName,
			c.Error,
			int64(c.Duration),
			trace,
		)
		if err != nil {
			return fmt.Errorf("write cell %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write file %s: commit: %w", file.Path, err)
	}
	return nil
}

// FinishRun records the outcome and counters of a run.
// Returns ErrRunNotFound if runID was never begun.
func (s *Store) FinishRun(ctx context.Context, runID string, outcome Outcome, passed, failed, skipped int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?, passed = ?, failed = ?, skipped = ?
		WHERE id = ?
	`, string(outcome), passed, failed, skipped, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}
