package harness

import (
	"errors"
	"fmt"
	"strings"
)

// CellError is the failure of a cell whose code raised in the kernel.
type CellError struct {
	// ID is the test identifier of the failing cell (set by CellTest).
	ID string

	Source    string
	Name      string
	Value     string
	Traceback []string
}

// Error implements the error interface. The message carries the cell source,
// the exception name and the exception value.
func (e *CellError) Error() string {
	return fmt.Sprintf("Error during cell evaluation\nSource:\n%s\n%s\n%s", e.Source, e.Name, e.Value)
}

// TracebackText joins the kernel traceback lines.
func (e *CellError) TracebackText() string {
	return strings.Join(e.Traceback, "\n")
}

// IsCellError returns true if err is or wraps a *CellError.
func IsCellError(err error) bool {
	var ce *CellError
	return errors.As(err, &ce)
}

// KernelStartError reports that no kernel could be started for a notebook.
// It is fatal for the notebook: none of its cells can run.
type KernelStartError struct {
	Path   string
	Kernel string // requested kernelspec, "" for the default kernel
	Err    error
}

// Error implements the error interface.
func (e *KernelStartError) Error() string {
	kernel := e.Kernel
	if kernel == "" {
		kernel = "default"
	}
	return fmt.Sprintf("starting %s kernel for %s: %v", kernel, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *KernelStartError) Unwrap() error {
	return e.Err
}

// IsKernelStartError returns true if err is or wraps a *KernelStartError.
func IsKernelStartError(err error) bool {
	var ke *KernelStartError
	return errors.As(err, &ke)
}
