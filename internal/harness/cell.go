package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/notebook"
)

// CellTest is one code cell exposed as a test case.
//
// The session is injected at construction and shared with the other cells
// of the same notebook; CellTest never starts or stops it.
type CellTest struct {
	path    string
	index   int
	cell    *notebook.Cell
	session kernel.Session
	logger  *slog.Logger
}

// NewCellTest wraps cell, the index-th code cell of path. The cell's
// recorded outputs are sanitized here, once.
func NewCellTest(path string, index int, cell *notebook.Cell, session kernel.Session, logger *slog.Logger) *CellTest {
	return &CellTest{
		path:    path,
		index:   index,
		cell:    notebook.Sanitize(cell),
		session: session,
		logger:  logger,
	}
}

// TestID builds the identifier of the index-th code cell of path.
func TestID(path string, index int) string {
	return fmt.Sprintf("%s#%d", path, index)
}

// ID returns the stable test identifier "<path>#<index>".
func (t *CellTest) ID() string {
	return TestID(t.path, t.index)
}

// Index returns the cell's position among the notebook's code cells.
func (t *CellTest) Index() int {
	return t.index
}

// Source returns the code the test runs.
func (t *CellTest) Source() string {
	return t.cell.Source
}

// Cell returns the sanitized cell.
func (t *CellTest) Cell() *notebook.Cell {
	return t.cell
}

// Run executes the cell and returns nil on success. A kernel-reported
// exception is returned as a *CellError.
func (t *CellTest) Run(ctx context.Context) error {
	_, err := t.run(ctx)
	return err
}

// Execute runs the cell and returns its result, trace included.
func (t *CellTest) Execute(ctx context.Context) CellResult {
	start := time.Now()
	trace, err := t.run(ctx)

	res := CellResult{
		ID:       t.ID(),
		Index:    t.index,
		Pass:     err == nil,
		Trace:    trace,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Error = err.Error()
		var ce *CellError
		if errors.As(err, &ce) {
			res.ErrorName = ce.Name
		}
	}
	return res
}

func (t *CellTest) run(ctx context.Context) ([]TraceEvent, error) {
	logger := t.logger
	if logger != nil {
		logger = logger.With("test", t.ID())
	}
	r := NewRunner(t.session, logger)

	err := r.Run(ctx, t.cell.Source)
	var ce *CellError
	if errors.As(err, &ce) {
		ce.ID = t.ID()
	}
	return r.Trace(), err
}
