package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/notebook"
)

// ErrScriptExhausted is returned by NextMessage once a script has produced
// MaxEmptyPolls timeouts in a row, so a broken script fails a test instead
// of hanging it.
var ErrScriptExhausted = errors.New("testutil: scripted session has no more messages")

// DefaultMaxEmptyPolls bounds consecutive empty polls on a ScriptedSession.
const DefaultMaxEmptyPolls = 1000

// Event is one step of a scripted reply: a message, or a poll that times out.
type Event struct {
	Msg     *kernel.Message
	Timeout bool

	// Foreign marks a message that answers some other request; its parent
	// header is left as scripted instead of being set to the current request.
	Foreign bool
}

// Responder produces the reply events for one submitted code block.
type Responder func(code string) []Event

// ScriptedSession is an in-memory kernel.Session driven by a Responder.
//
// Execute queues the responder's events; NextMessage pops them in order and
// reports kernel.ErrTimedOut for scripted timeouts or when the queue is empty.
type ScriptedSession struct {
	mu        sync.Mutex
	id        string
	ids       kernel.IDGenerator
	clock     *MessageClock
	responder Responder
	queue     []Event

	emptyPolls    int
	MaxEmptyPolls int

	// ExecuteErr, when set, is returned by every Execute call.
	ExecuteErr error

	// CloseErr, when set, is returned by Close.
	CloseErr error

	executed []string
	polls    int
	closed   bool
}

// NewScriptedSession creates a session answering with responder.
func NewScriptedSession(id string, responder Responder) *ScriptedSession {
	return &ScriptedSession{
		id:            id,
		ids:           kernel.NewSequenceGenerator(id + "-req"),
		clock:         NewMessageClock(),
		responder:     responder,
		MaxEmptyPolls: DefaultMaxEmptyPolls,
	}
}

// ID implements kernel.Session.
func (s *ScriptedSession) ID() string {
	return s.id
}

// Execute implements kernel.Session.
func (s *ScriptedSession) Execute(code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", kernel.ErrSessionClosed
	}
	if s.ExecuteErr != nil {
		return "", s.ExecuteErr
	}

	reqID := s.ids.Generate()
	s.executed = append(s.executed, code)

	for _, ev := range s.responder(code) {
		if ev.Msg != nil && !ev.Foreign {
			ev.Msg.ParentHeader = kernel.Header{MsgID: reqID, MsgType: kernel.MsgExecuteRequest, Session: s.id}
		}
		s.queue = append(s.queue, ev)
	}
	return reqID, nil
}

// Inject queues events that do not answer any request, such as the
// starting status a fresh kernel broadcasts.
func (s *ScriptedSession) Inject(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, events...)
}

// NextMessage implements kernel.Session. The timeout is not waited on.
func (s *ScriptedSession) NextMessage(timeout time.Duration) (*kernel.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, kernel.ErrSessionClosed
	}
	s.polls++

	if len(s.queue) == 0 {
		s.emptyPolls++
		if s.MaxEmptyPolls > 0 && s.emptyPolls > s.MaxEmptyPolls {
			return nil, ErrScriptExhausted
		}
		return nil, kernel.ErrTimedOut
	}

	ev := s.queue[0]
	s.queue = s.queue[1:]
	if ev.Timeout || ev.Msg == nil {
		return nil, kernel.ErrTimedOut
	}

	s.emptyPolls = 0
	ev.Msg.Seq = s.clock.Next()
	if ev.Msg.Channel == "" {
		ev.Msg.Channel = kernel.ChannelIOPub
	}
	return ev.Msg, nil
}

// Close implements kernel.Session.
func (s *ScriptedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.CloseErr
}

// Executed returns the code blocks submitted so far, in order.
func (s *ScriptedSession) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Polls returns how many times NextMessage was called.
func (s *ScriptedSession) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Pending returns how many queued events have not been consumed.
func (s *ScriptedSession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Closed reports whether Close was called.
func (s *ScriptedSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FakeStarter hands out sessions built by New and records every start.
type FakeStarter struct {
	mu sync.Mutex

	// New builds the session for a document. Required unless Err is set.
	New func(doc *notebook.Document) kernel.Session

	// Err, when set, makes every Start fail.
	Err error

	Started  []string
	Sessions []kernel.Session
}

// Start implements kernel.Starter.
func (f *FakeStarter) Start(ctx context.Context, doc *notebook.Document) (kernel.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.New == nil {
		return nil, fmt.Errorf("testutil: FakeStarter.New not set")
	}
	f.Started = append(f.Started, doc.KernelName())
	sess := f.New(doc)
	f.Sessions = append(f.Sessions, sess)
	return sess, nil
}

// Status builds a status message with the given execution state.
func Status(state string) Event {
	return Event{Msg: &kernel.Message{
		Header:  kernel.Header{MsgType: kernel.MsgStatus},
		Content: map[string]any{"execution_state": state},
	}}
}

// Stream builds a stream message.
func Stream(name, text string) Event {
	return Event{Msg: &kernel.Message{
		Header:  kernel.Header{MsgType: kernel.MsgStream},
		Content: map[string]any{"name": name, "text": text},
	}}
}

// ExecuteResult builds an execute_result message with a text/plain value.
func ExecuteResult(text string) Event {
	return Event{Msg: &kernel.Message{
		Header: kernel.Header{MsgType: kernel.MsgExecuteResult},
		Content: map[string]any{
			"data":     map[string]any{"text/plain": text},
			"metadata": map[string]any{},
		},
	}}
}

// Error builds an error message.
func Error(name, value string, traceback ...string) Event {
	tb := make([]any, len(traceback))
	for i, line := range traceback {
		tb[i] = line
	}
	return Event{Msg: &kernel.Message{
		Header:  kernel.Header{MsgType: kernel.MsgError},
		Content: map[string]any{"ename": name, "evalue": value, "traceback": tb},
	}}
}

// Timeout is a poll that returns kernel.ErrTimedOut.
func Timeout() Event {
	return Event{Timeout: true}
}

// Foreign marks ev as answering a request other than the current one.
func Foreign(ev Event, parentID string) Event {
	ev.Foreign = true
	if ev.Msg != nil {
		ev.Msg.ParentHeader = kernel.Header{MsgID: parentID}
	}
	return ev
}
