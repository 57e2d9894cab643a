package jupyter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/nbcheck/internal/kernel"
)

// shutdownTimeout bounds the kernel DELETE issued by Session.Close.
const shutdownTimeout = 10 * time.Second

// iopubBuffer is how many broadcast messages the reader queues ahead of
// NextMessage before it stops reading.
const iopubBuffer = 256

// Session is a kernel.Session over a kernel's channels websocket.
//
// A reader goroutine decodes frames, keeps iopub messages and numbers them
// in arrival order. It exits when the connection closes.
type Session struct {
	client    *Client
	kernelID  string
	sessionID string
	conn      *websocket.Conn
	logger    *slog.Logger

	// ownsKernel makes Close shut the kernel down.
	ownsKernel bool

	writeMu sync.Mutex

	msgs       chan *kernel.Message
	done       chan struct{}
	readerDone chan struct{}

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	closeErr  error
}

func newSession(c *Client, kernelID, sessionID string, conn *websocket.Conn) *Session {
	s := &Session{
		client:     c,
		kernelID:   kernelID,
		sessionID:  sessionID,
		conn:       conn,
		logger:     c.logger.With("kernel_id", kernelID),
		msgs:       make(chan *kernel.Message, iopubBuffer),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// ID implements kernel.Session. It returns the kernel id.
func (s *Session) ID() string {
	return s.kernelID
}

// SessionID returns the client session id sent with every request.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Execute implements kernel.Session.
func (s *Session) Execute(code string) (string, error) {
	select {
	case <-s.done:
		return "", kernel.ErrSessionClosed
	default:
	}

	msg := kernel.NewExecuteRequest(code, s.sessionID, s.client.ids)
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding execute_request: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return "", fmt.Errorf("sending execute_request: %w", err)
	}
	s.logger.Debug("execute_request sent", "msg_id", msg.Header.MsgID)
	return msg.Header.MsgID, nil
}

// NextMessage implements kernel.Session.
func (s *Session) NextMessage(timeout time.Duration) (*kernel.Message, error) {
	select {
	case <-s.done:
		return nil, kernel.ErrSessionClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return nil, s.err()
		}
		return msg, nil
	case <-timer.C:
		return nil, kernel.ErrTimedOut
	}
}

// Close implements kernel.Session. It closes the websocket, waits for the
// reader to exit and, for kernels started by a Starter, shuts the kernel
// down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
		<-s.readerDone

		if s.ownsKernel {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.client.ShutdownKernel(ctx, s.kernelID); err != nil {
				s.closeErr = fmt.Errorf("shutting down kernel %s: %w", s.kernelID, err)
			}
		}
	})
	return s.closeErr
}

func (s *Session) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.readErr == nil {
		return kernel.ErrSessionClosed
	}
	return s.readErr
}

func (s *Session) readLoop() {
	defer close(s.readerDone)
	defer close(s.msgs)

	var seq int64
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// closed by us
			default:
				s.errMu.Lock()
				s.readErr = fmt.Errorf("kernel connection lost: %w", err)
				s.errMu.Unlock()
				s.logger.Warn("kernel connection lost", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			s.logger.Debug("skipping binary frame", "bytes", len(data))
			continue
		}

		var msg kernel.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("skipping undecodable frame", "error", err)
			continue
		}
		if msg.Channel != kernel.ChannelIOPub {
			s.logger.Debug("skipping non-iopub message", "channel", msg.Channel, "type", msg.Type())
			continue
		}

		seq++
		msg.Seq = seq
		select {
		case s.msgs <- &msg:
		case <-s.done:
			return
		}
	}
}
