package harness

import (
	"context"
	"io"
	"log/slog"

	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/notebook"
)

// Harness turns notebooks into suites of cell tests and runs them.
//
// Each notebook gets its own kernel from the Starter; kernels are never
// shared between notebooks.
type Harness struct {
	starter kernel.Starter
	logger  *slog.Logger
}

// New creates a harness. A nil logger discards output.
func New(starter kernel.Starter, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Harness{starter: starter, logger: logger}
}

// Load reads the notebook at path, starts its kernel and builds one cell test
// per code cell.
//
// A notebook that fails to parse returns a *notebook.ParseError. A notebook
// without code cells returns an empty suite and no kernel is started. A
// kernel that cannot be started returns a *KernelStartError.
func (h *Harness) Load(ctx context.Context, path string) (*Suite, error) {
	doc, err := notebook.Load(path)
	if err != nil {
		return nil, err
	}

	suite := &Suite{
		path:   path,
		doc:    doc,
		logger: h.logger.With("path", path),
	}
	if !notebook.HasCodeCells(doc) {
		h.logger.Info("no code cells", "path", path)
		return suite, nil
	}

	session, err := h.starter.Start(ctx, doc)
	if err != nil {
		return nil, &KernelStartError{Path: path, Kernel: doc.KernelName(), Err: err}
	}
	suite.session = session
	h.logger.Debug("kernel started",
		"path", path,
		"kernel", doc.KernelName(),
		"session", session.ID(),
		"nbformat", doc.OrigFormat,
	)

	for idx, cell := range notebook.CodeCells(doc) {
		suite.tests = append(suite.tests, NewCellTest(path, idx, cell, session, suite.logger))
	}
	return suite, nil
}

// RunFile loads and runs one notebook, calling report after each cell.
//
// Files that are not test documents (parse failure, no code cells) come back
// as a skipped result with a nil error. A kernel start failure is returned
// as an error since none of the notebook's cells can run.
func (h *Harness) RunFile(ctx context.Context, path string, report func(CellResult)) (*FileResult, error) {
	result := NewFileResult(path)

	suite, err := h.Load(ctx, path)
	if err != nil {
		if notebook.IsParseError(err) {
			h.logger.Info("could not be parsed as a notebook", "path", path, "error", err)
			result.Skip(err.Error())
			return result, nil
		}
		return result, err
	}
	if suite.Len() == 0 {
		result.Skip(SkipNoCodeCells)
		return result, nil
	}

	result.Kernel = suite.Document().KernelName()
	_, err = suite.Run(ctx, func(c CellResult) {
		result.Add(c)
		if report != nil {
			report(c)
		}
	})
	return result, err
}
