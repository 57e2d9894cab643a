package kernel

import (
	"fmt"
	"strings"
	"time"
)

// ProtocolVersion is the Jupyter messaging protocol version sent in headers.
const ProtocolVersion = "5.3"

// Message types used by the runner.
const (
	MsgExecuteRequest = "execute_request"
	MsgExecuteReply   = "execute_reply"
	MsgExecuteInput   = "execute_input"
	MsgExecuteResult  = "execute_result"
	MsgDisplayData    = "display_data"
	MsgStream         = "stream"
	MsgStatus         = "status"
	MsgError          = "error"
)

// Kernel execution states carried by status messages.
const (
	StateStarting = "starting"
	StateBusy     = "busy"
	StateIdle     = "idle"
)

// Channels a message can travel on.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
)

// Header identifies a message. All fields are omitted when empty so an
// absent parent header encodes as {}.
type Header struct {
	MsgID    string `json:"msg_id,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
	Username string `json:"username,omitempty"`
	Session  string `json:"session,omitempty"`
	Date     string `json:"date,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Message is one kernel protocol message.
type Message struct {
	Header       Header         `json:"header"`
	ParentHeader Header         `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Buffers      []any          `json:"buffers,omitempty"`
	Channel      string         `json:"channel,omitempty"`

	// Seq is the receive order assigned by the session, starting at 1.
	Seq int64 `json:"-"`
}

// Type returns the message type tag (status, error, stream, ...).
func (m *Message) Type() string {
	return m.Header.MsgType
}

// ParentID returns the msg_id of the request this message answers, or "".
func (m *Message) ParentID() string {
	return m.ParentHeader.MsgID
}

// ExecutionState returns content.execution_state for status messages.
func (m *Message) ExecutionState() string {
	s, _ := m.Content["execution_state"].(string)
	return s
}

// IsIdle reports whether m is the status message signalling that the kernel
// finished the request and is ready for more.
func (m *Message) IsIdle() bool {
	return m.Type() == MsgStatus && m.ExecutionState() == StateIdle
}

// ErrorContent is the payload of an error message.
type ErrorContent struct {
	Name      string
	Value     string
	Traceback []string
}

// ErrorInfo extracts the error payload. ok is false for other message types.
func (m *Message) ErrorInfo() (ErrorContent, bool) {
	if m.Type() != MsgError {
		return ErrorContent{}, false
	}
	ec := ErrorContent{}
	ec.Name, _ = m.Content["ename"].(string)
	ec.Value, _ = m.Content["evalue"].(string)
	if tb, ok := m.Content["traceback"].([]any); ok {
		for _, line := range tb {
			if s, ok := line.(string); ok {
				ec.Traceback = append(ec.Traceback, s)
			}
		}
	}
	if tb, ok := m.Content["traceback"].([]string); ok {
		ec.Traceback = append(ec.Traceback, tb...)
	}
	return ec, true
}

// String renders a short description for logs.
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", m.Type())
	if m.Type() == MsgStatus {
		fmt.Fprintf(&b, "(%s)", m.ExecutionState())
	}
	if m.Channel != "" {
		fmt.Fprintf(&b, " on %s", m.Channel)
	}
	return b.String()
}

// NewMessage builds a request message with a fresh header.
func NewMessage(msgType, session string, content map[string]any, ids IDGenerator) *Message {
	if content == nil {
		content = map[string]any{}
	}
	return &Message{
		Header: Header{
			MsgID:    ids.Generate(),
			MsgType:  msgType,
			Username: "nbcheck",
			Session:  session,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  content,
	}
}

// NewExecuteRequest builds the shell request that runs code. stop_on_error
// is off: a kernel that stops on error aborts requests already queued behind
// the failing one, and those still end with an idle status.
func NewExecuteRequest(code, session string, ids IDGenerator) *Message {
	msg := NewMessage(MsgExecuteRequest, session, map[string]any{
		"code":             code,
		"silent":           false,
		"store_history":    true,
		"user_expressions": map[string]any{},
		"allow_stdin":      false,
		"stop_on_error":    false,
	}, ids)
	msg.Channel = ChannelShell
	return msg
}
