package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/nbcheck/internal/harness"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// beginTestRun inserts a run with a fixed start time.
func beginTestRun(t *testing.T, s *Store, id string) Run {
	t.Helper()
	run, err := s.BeginRun(context.Background(), Run{
		ID:        id,
		StartedAt: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Pattern:   `.*[Tt]est.*\.ipynb$`,
	})
	if err != nil {
		t.Fatalf("BeginRun(%s) failed: %v", id, err)
	}
	return run
}

// createTestFile builds a file result with one passing and one failing cell.
func createTestFile(path string) *harness.FileResult {
	f := harness.NewFileResult(path)
	f.Kernel = "python3"
	f.Add(harness.CellResult{
		ID:    path + "#0",
		Index: 0,
		Pass:  true,
		Trace: []harness.TraceEvent{
			{Seq: 1, Type: "status", State: "busy"},
			{Seq: 2, Type: "status", State: "idle"},
		},
		Duration: 15 * time.Millisecond,
	})
	f.Add(harness.CellResult{
		ID:        path + "#1",
		Index:     1,
		Error:     "Error during cell evaluation\nSource:\n1/0\nZeroDivisionError\ndivision by zero",
		ErrorName: "ZeroDivisionError",
		Trace: []harness.TraceEvent{
			{Seq: 1, Type: "status", State: "idle", Ignored: true},
			{Seq: 2, Type: "error"},
		},
	})
	return f
}

// verifyPragma checks that a pragma reads back as expected.
func verifyPragma(s *Store, name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
