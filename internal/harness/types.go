package harness

import (
	"time"

	"github.com/roach88/nbcheck/internal/kernel"
)

// TraceEvent records one kernel message observed while running a cell.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`   // execution_state for status messages
	Ignored bool   `json:"ignored,omitempty"` // message answered another request
}

func traceEventFor(seq int64, msg *kernel.Message, ignored bool) TraceEvent {
	ev := TraceEvent{Seq: seq, Type: msg.Type(), Ignored: ignored}
	if msg.Type() == kernel.MsgStatus {
		ev.State = msg.ExecutionState()
	}
	return ev
}

// CellResult is the outcome of one cell test.
type CellResult struct {
	// ID is the stable test identifier, "<path>#<code cell index>".
	ID    string `json:"id"`
	Index int    `json:"index"`
	Pass  bool   `json:"pass"`

	// Error is the failure message; empty when Pass is true.
	Error string `json:"error,omitempty"`

	// ErrorName is the kernel's exception name for cell errors.
	ErrorName string `json:"error_name,omitempty"`

	// Trace lists the kernel messages consumed while running the cell.
	Trace []TraceEvent `json:"trace"`

	Duration time.Duration `json:"-"`
}

// FileResult is the outcome of one notebook.
type FileResult struct {
	Path   string `json:"path"`
	Kernel string `json:"kernel,omitempty"`

	// Skipped is set for files that are not test documents (parse failure
	// or no code cells). SkipReason says which.
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	Cells  []CellResult `json:"cells"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
}

// NewFileResult creates an empty result for path.
func NewFileResult(path string) *FileResult {
	return &FileResult{
		Path:  path,
		Cells: []CellResult{},
	}
}

// Add appends a cell result and updates the counters.
func (r *FileResult) Add(c CellResult) {
	r.Cells = append(r.Cells, c)
	if c.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// Skip marks the file as not being a test document.
func (r *FileResult) Skip(reason string) {
	r.Skipped = true
	r.SkipReason = reason
}

// Pass reports whether every cell passed. Skipped files pass.
func (r *FileResult) Pass() bool {
	return r.Failed == 0
}
