package kernel

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/nbcheck/internal/notebook"
)

// ErrTimedOut is returned by Session.NextMessage when no message arrived
// within the timeout. It is not a failure: callers poll again.
var ErrTimedOut = errors.New("kernel: no message within timeout")

// ErrSessionClosed is returned by a Session after Close.
var ErrSessionClosed = errors.New("kernel: session closed")

// Session is one running kernel and its request and broadcast channels.
//
// A Session is used by one goroutine at a time: cells of a notebook run in
// order against the same Session, so kernel state carries over between them.
type Session interface {
	// ID identifies the session (the kernel id for server-backed kernels).
	ID() string

	// Execute submits code and returns the request's msg_id without waiting
	// for the kernel to run it.
	Execute(code string) (string, error)

	// NextMessage returns the next broadcast message in emission order,
	// waiting at most timeout. It returns ErrTimedOut when nothing arrived.
	NextMessage(timeout time.Duration) (*Message, error)

	// Close terminates the kernel and releases the connection.
	Close() error
}

// Starter launches a kernel suitable for a notebook.
type Starter interface {
	Start(ctx context.Context, doc *notebook.Document) (Session, error)
}

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context, doc *notebook.Document) (Session, error)

// Start calls f.
func (f StarterFunc) Start(ctx context.Context, doc *notebook.Document) (Session, error) {
	return f(ctx, doc)
}

// IsTimeout reports whether err is (or wraps) ErrTimedOut.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut)
}
