package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/nbcheck/internal/kernel"
)

// PollTimeout is how long a single wait for the next kernel message lasts.
// A timed out poll is retried; there is no overall deadline, so slow cells
// are never cut short.
const PollTimeout = time.Second

// State is a step of the cell execution protocol.
type State int

const (
	StateNotStarted State = iota
	StateSubmitted
	StateAwaitingIdle
	StatePassed
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateSubmitted:
		return "submitted"
	case StateAwaitingIdle:
		return "awaiting_idle"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Runner drives one code block through a kernel session: submit, then
// consume broadcast messages until the kernel reports idle (pass) or an
// error (fail).
//
// A Runner is single use. The session is borrowed, not owned: it stays open
// after Run returns, failed or not, so later cells can keep using it.
type Runner struct {
	session     kernel.Session
	logger      *slog.Logger
	pollTimeout time.Duration

	state State
	reqID string
	seq   int64
	trace []TraceEvent
}

// NewRunner creates a runner over session. A nil logger discards output.
func NewRunner(session kernel.Session, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		session:     session,
		logger:      logger,
		pollTimeout: PollTimeout,
		state:       StateNotStarted,
		trace:       []TraceEvent{},
	}
}

// State returns the current protocol state.
func (r *Runner) State() State {
	return r.state
}

// Trace returns the messages observed so far.
func (r *Runner) Trace() []TraceEvent {
	return r.trace
}

// Run executes source and blocks until the kernel finishes it.
//
// It returns nil when the kernel goes idle, a *CellError when the kernel
// reports an error, and any other error when the session breaks or ctx is
// cancelled. Messages belonging to other requests are recorded in the trace
// and otherwise ignored.
func (r *Runner) Run(ctx context.Context, source string) error {
	if r.state != StateNotStarted {
		return fmt.Errorf("runner already used (state %s)", r.state)
	}

	reqID, err := r.session.Execute(source)
	if err != nil {
		r.state = StateFailed
		return fmt.Errorf("submitting cell: %w", err)
	}
	r.reqID = reqID
	r.state = StateSubmitted
	r.logger.Debug("cell submitted", "request", reqID, "session", r.session.ID())

	// last is nil until a message for this request arrives, which keeps the
	// loop polling at least once.
	var last *kernel.Message
	for shouldContinue(last) {
		r.state = StateAwaitingIdle

		if err := ctx.Err(); err != nil {
			r.state = StateFailed
			return err
		}

		msg, err := r.session.NextMessage(r.pollTimeout)
		if kernel.IsTimeout(err) {
			continue
		}
		if err != nil {
			r.state = StateFailed
			return fmt.Errorf("receiving kernel message: %w", err)
		}

		r.seq++
		if msg.ParentID() != r.reqID {
			r.trace = append(r.trace, traceEventFor(r.seq, msg, true))
			r.logger.Debug("ignoring message for another request",
				"type", msg.Type(),
				"parent", msg.ParentID(),
				"request", r.reqID,
			)
			continue
		}
		r.trace = append(r.trace, traceEventFor(r.seq, msg, false))

		if ec, ok := msg.ErrorInfo(); ok {
			r.state = StateFailed
			r.logger.Debug("cell raised", "ename", ec.Name, "traceback", ec.Traceback)
			return &CellError{
				Source:    source,
				Name:      ec.Name,
				Value:     ec.Value,
				Traceback: ec.Traceback,
			}
		}
		last = msg
	}

	r.state = StatePassed
	return nil
}

// shouldContinue reports whether the message stream for the current request
// may still have more to come.
func shouldContinue(msg *kernel.Message) bool {
	if msg == nil {
		return true
	}
	return !msg.IsIdle()
}
