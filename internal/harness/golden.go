package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/nbcheck/internal/notebook"
)

// RunSnapshot captures a notebook run for golden comparison. Durations and
// full error text are left out so snapshots stay stable across runs.
type RunSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	Path         string         `json:"path"`
	Skipped      bool           `json:"skipped"`
	SkipReason   string         `json:"skip_reason,omitempty"`
	Passed       int            `json:"passed"`
	Failed       int            `json:"failed"`
	Cells        []CellSnapshot `json:"cells"`
}

// CellSnapshot is the stable part of a CellResult.
type CellSnapshot struct {
	ID        string       `json:"id"`
	Pass      bool         `json:"pass"`
	ErrorName string       `json:"error_name,omitempty"`
	Trace     []TraceEvent `json:"trace"`
}

// NewRunSnapshot builds the snapshot of a file result.
func NewRunSnapshot(name string, file *FileResult) RunSnapshot {
	snap := RunSnapshot{
		ScenarioName: name,
		Path:         file.Path,
		Skipped:      file.Skipped,
		SkipReason:   file.SkipReason,
		Passed:       file.Passed,
		Failed:       file.Failed,
		Cells:        make([]CellSnapshot, 0, len(file.Cells)),
	}
	for _, c := range file.Cells {
		snap.Cells = append(snap.Cells, CellSnapshot{
			ID:        c.ID,
			Pass:      c.Pass,
			ErrorName: c.ErrorName,
			Trace:     c.Trace,
		})
	}
	return snap
}

// RunWithGolden runs a scenario and compares the run against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// The returned result still carries any violated expectations; golden
// mismatches fail t directly.
func RunWithGolden(t *testing.T, scenario *Scenario) (*ScenarioResult, error) {
	t.Helper()

	result, err := RunScenario(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result.File); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares a file result against a golden file without
// re-running anything.
func AssertGolden(t *testing.T, name string, file *FileResult) error {
	t.Helper()

	data, err := notebook.DumpCanonical(NewRunSnapshot(name, file))
	if err != nil {
		return err
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
