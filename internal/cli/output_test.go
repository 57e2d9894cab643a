package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nbcheck/internal/harness"
)

func passing(id string) harness.CellResult {
	return harness.CellResult{ID: id, Pass: true}
}

func failing(id, name, value string) harness.CellResult {
	err := &harness.CellError{ID: id, Source: "1/0", Name: name, Value: value}
	return harness.CellResult{ID: id, Error: err.Error(), ErrorName: name}
}

func fileResult(path string, cells ...harness.CellResult) *harness.FileResult {
	r := harness.NewFileResult(path)
	for _, c := range cells {
		r.Add(c)
	}
	return r
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestExitError_Message(t *testing.T) {
	err := WrapExitError(ExitCommandError, "failed to load config", errors.New("no such file"))
	assert.Equal(t, "failed to load config: no such file", err.Error())
	assert.Equal(t, "no such file", errors.Unwrap(err).Error())

	assert.Equal(t, "bare", NewExitError(ExitFailure, "bare").Error())
}

func TestRunReport_Add(t *testing.T) {
	report := NewRunReport("p")
	report.Add(fileResult("a_test.ipynb", passing("a#0"), failing("a#1", "ValueError", "boom")))
	skipped := harness.NewFileResult("b_test.ipynb")
	skipped.Skip(harness.SkipNoCodeCells)
	report.Add(skipped)

	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, report.Files, 2)
}

func TestOutputFormatter_TextCell(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	f.Cell(passing("a_test.ipynb#0"))
	f.Cell(failing("a_test.ipynb#1", "ZeroDivisionError", "division by zero"))

	assert.Equal(t,
		"✓ a_test.ipynb#0\n"+
			"✗ a_test.ipynb#1\n"+
			"    ZeroDivisionError: division by zero\n",
		buf.String())
}

func TestOutputFormatter_TextCellVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	f.Cell(failing("a_test.ipynb#1", "ZeroDivisionError", "division by zero"))

	assert.Equal(t,
		"✗ a_test.ipynb#1\n"+
			"    Error during cell evaluation\n"+
			"    Source:\n"+
			"    1/0\n"+
			"    ZeroDivisionError\n"+
			"    division by zero\n",
		buf.String())
}

func TestOutputFormatter_JSONCellIsSilent(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	f.Cell(passing("a_test.ipynb#0"))
	f.Skipped(harness.NewFileResult("x"))
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_TextSkipped(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	r := harness.NewFileResult("notes_test.ipynb")
	r.Skip(harness.SkipNoCodeCells)
	f.Skipped(r)

	assert.Equal(t, "- notes_test.ipynb (skipped: no code cells)\n", buf.String())
}

func TestOutputFormatter_TextReport(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	report := NewRunReport("p")
	report.Add(fileResult("a_test.ipynb", passing("a#0")))

	require.NoError(t, f.Report(report))
	assert.Equal(t, "\nSummary: 1 passed, 0 failed, 0 skipped in 1 notebook(s)\n✓ All cells passed\n", buf.String())
}

func TestOutputFormatter_TextReportFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	report := NewRunReport("p")
	report.Add(fileResult("a_test.ipynb", passing("a#0"), failing("a#1", "ValueError", "boom")))

	err := f.Report(report)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "1 cell(s) failed", err.Error())
	assert.NotContains(t, buf.String(), "All cells passed")
}

func TestOutputFormatter_JSONReport(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	report := NewRunReport("p")
	report.Add(fileResult("a_test.ipynb", passing("a#0"), failing("a#1", "ValueError", "boom")))

	err := f.Report(report)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string    `json:"status"`
		Data   RunReport `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Files, 1)
	assert.Equal(t, "ValueError", resp.Data.Files[0].Cells[1].ErrorName)
}

func TestOutputFormatter_JSONReportSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Report(NewRunReport("p")))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_Abort(t *testing.T) {
	exitErr := WrapExitError(ExitCommandError, "kernel start failed", errors.New("no such kernel"))

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: buf}

		err := f.Abort(NewRunReport("p"), CodeKernelStart, exitErr)
		assert.Same(t, exitErr, err)
		assert.Equal(t, "Error [E_KERNEL_START]: kernel start failed: no such kernel\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}

		err := f.Abort(NewRunReport("p"), CodeKernelStart, exitErr)
		assert.Same(t, exitErr, err)

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeKernelStart, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "no such kernel")
	})
}

func TestSummarizeError(t *testing.T) {
	tests := []struct {
		name string
		cell harness.CellResult
		want string
	}{
		{"name and value", failing("x", "ValueError", "boom"), "ValueError: boom"},
		{"empty value", failing("x", "AssertionError", ""), "AssertionError"},
		{"not a cell error", harness.CellResult{Error: "kernel connection lost: EOF"}, "kernel connection lost: EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarizeError(tt.cell))
		})
	}
}
