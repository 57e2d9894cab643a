package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/nbcheck/internal/harness"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Every cell passed
	ExitFailure      = 1 // At least one cell failed
	ExitCommandError = 2 // Command error (bad config, no server, kernel start failure, etc.)
)

// Error codes used in JSON responses.
const (
	CodeTestFailed   = "E_TEST_FAILED"
	CodeKernelStart  = "E_KERNEL_START"
	CodeInterrupted  = "E_INTERRUPTED"
	CodeCommandError = "E_COMMAND"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // CodeTestFailed, CodeKernelStart, ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// RunReport is the outcome of a run command.
type RunReport struct {
	Pattern string                `json:"pattern"`
	Files   []*harness.FileResult `json:"files"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Skipped int                   `json:"skipped"`
}

// NewRunReport creates an empty report.
func NewRunReport(pattern string) *RunReport {
	return &RunReport{Pattern: pattern, Files: []*harness.FileResult{}}
}

// Add records one notebook's result.
func (r *RunReport) Add(f *harness.FileResult) {
	r.Files = append(r.Files, f)
	r.Passed += f.Passed
	r.Failed += f.Failed
	if f.Skipped {
		r.Skipped++
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// Cell prints one cell outcome as it happens. JSON output is written once,
// at the end, so Cell is silent in JSON mode.
func (f *OutputFormatter) Cell(c harness.CellResult) {
	if f.Format == "json" {
		return
	}
	if c.Pass {
		fmt.Fprintf(f.Writer, "✓ %s\n", c.ID)
		return
	}

	fmt.Fprintf(f.Writer, "✗ %s\n", c.ID)
	msg := c.Error
	if !f.Verbose {
		msg = summarizeError(c)
	}
	for _, line := range strings.Split(msg, "\n") {
		fmt.Fprintf(f.Writer, "    %s\n", line)
	}
}

// Skipped prints a notebook that was not run.
func (f *OutputFormatter) Skipped(r *harness.FileResult) {
	if f.Format == "json" {
		return
	}
	fmt.Fprintf(f.Writer, "- %s (skipped: %s)\n", r.Path, r.SkipReason)
}

// Report writes the run summary. The returned error carries the exit code:
// nil when every cell passed, ExitFailure otherwise.
func (f *OutputFormatter) Report(report *RunReport) error {
	var exitErr *ExitError
	if report.Failed > 0 {
		exitErr = NewExitError(ExitFailure, fmt.Sprintf("%d cell(s) failed", report.Failed))
	}

	if f.Format == "json" {
		response := CLIResponse{Status: "ok", Data: report}
		if exitErr != nil {
			response.Status = "error"
			response.Error = &CLIError{Code: CodeTestFailed, Message: exitErr.Message}
		}
		if err := f.encode(response); err != nil {
			return err
		}
		if exitErr != nil {
			return exitErr
		}
		return nil
	}

	fmt.Fprintln(f.Writer)
	fmt.Fprintf(f.Writer, "Summary: %d passed, %d failed, %d skipped in %d notebook(s)\n",
		report.Passed, report.Failed, report.Skipped, len(report.Files))
	if exitErr != nil {
		return exitErr
	}
	fmt.Fprintln(f.Writer, "✓ All cells passed")
	return nil
}

// Abort writes a run that could not finish, with whatever results were
// gathered, and returns err unchanged.
func (f *OutputFormatter) Abort(report *RunReport, code string, err *ExitError) error {
	if f.Format == "json" {
		if encErr := f.encode(CLIResponse{
			Status: "error",
			Data:   report,
			Error:  &CLIError{Code: code, Message: err.Error()},
		}); encErr != nil {
			return encErr
		}
		return err
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, err.Error())
	return err
}

func (f *OutputFormatter) encode(v any) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// summarizeError shortens a cell failure to its exception, the last line of
// the kernel's report.
func summarizeError(c harness.CellResult) string {
	lines := strings.Split(strings.TrimRight(c.Error, "\n"), "\n")
	last := lines[len(lines)-1]
	if c.ErrorName == "" || last == c.ErrorName {
		return last
	}
	return c.ErrorName + ": " + last
}
