package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/notebook"
)

// Suite is the set of cell tests of one notebook together with the kernel
// session they share.
//
// The session belongs to the suite: it is started by Load and stopped by
// Close, which Run always calls before returning.
type Suite struct {
	path    string
	doc     *notebook.Document
	session kernel.Session
	tests   []*CellTest
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Path returns the notebook path the suite was loaded from.
func (s *Suite) Path() string {
	return s.path
}

// Document returns the loaded notebook.
func (s *Suite) Document() *notebook.Document {
	return s.doc
}

// Session returns the shared kernel session, nil for a notebook without code.
func (s *Suite) Session() kernel.Session {
	return s.session
}

// Tests returns the cell tests in document order.
func (s *Suite) Tests() []*CellTest {
	return s.tests
}

// Len returns the number of cell tests.
func (s *Suite) Len() int {
	return len(s.tests)
}

// Run executes every cell test in document order against the shared session,
// calling report after each one. A failing cell does not stop the cells after
// it. Run stops early only when ctx is cancelled.
//
// The session is closed before Run returns, on every path. A failure to stop
// the kernel is logged and does not change the returned results or error:
// the cell outcomes are already final. Close reports it to callers that care.
func (s *Suite) Run(ctx context.Context, report func(CellResult)) ([]CellResult, error) {
	defer s.Close()

	results := make([]CellResult, 0, len(s.tests))
	for _, t := range s.tests {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := t.Execute(ctx)
		results = append(results, res)
		if report != nil {
			report(res)
		}

		if res.Pass {
			s.logger.Debug("cell passed", "test", res.ID, "duration", res.Duration)
		} else {
			s.logger.Info("cell failed", "test", res.ID, "error_name", res.ErrorName)
		}
	}
	return results, nil
}

// Close stops the kernel session. It is safe to call more than once; later
// calls return the first call's error.
func (s *Suite) Close() error {
	s.closeOnce.Do(func() {
		if s.session == nil {
			return
		}
		s.logger.Debug("stopping kernel", "path", s.path, "session", s.session.ID())
		if err := s.session.Close(); err != nil {
			s.closeErr = fmt.Errorf("stopping kernel for %s: %w", s.path, err)
			s.logger.Warn("failed to stop kernel", "path", s.path, "error", err)
		}
	})
	return s.closeErr
}

// SkipNoCodeCells is the skip reason of notebooks without code cells.
const SkipNoCodeCells = "no code cells"
