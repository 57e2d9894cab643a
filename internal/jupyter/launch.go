package jupyter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Launch defaults.
const (
	DefaultCommand      = "jupyter"
	DefaultStartTimeout = 60 * time.Second
	DefaultStopTimeout  = 10 * time.Second

	readyInterval = 200 * time.Millisecond
)

// LaunchOptions configures a local Jupyter Server child process.
type LaunchOptions struct {
	// Command is the jupyter executable. Defaults to "jupyter".
	Command string

	// Args are extra arguments appended after the generated ones.
	Args []string

	// Dir is the server's working directory (and root_dir).
	Dir string

	// StartTimeout bounds the wait for the server to answer /api/status.
	StartTimeout time.Duration

	Logger *slog.Logger
}

// Server is a Jupyter Server started by Launch.
type Server struct {
	URL   string
	Token string

	cmd    *exec.Cmd
	exited chan struct{}
	logger *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

// Launch starts "jupyter server" on a free loopback port with a random
// token and waits until it answers. The caller must Stop it.
func Launch(ctx context.Context, opts LaunchOptions) (*Server, error) {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("finding a free port: %w", err)
	}
	token := uuid.NewString()

	args := []string{
		"server",
		"--no-browser",
		"--ip=127.0.0.1",
		fmt.Sprintf("--port=%d", port),
		"--ServerApp.port_retries=0",
		"--ServerApp.token=" + token,
	}
	if opts.Dir != "" {
		args = append(args, "--ServerApp.root_dir="+opts.Dir)
	}
	args = append(args, opts.Args...)

	cmd := exec.Command(opts.Command, args...)
	cmd.Dir = opts.Dir
	stderr := &logWriter{logger: logger}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launching %s: %w", opts.Command, err)
	}

	s := &Server{
		URL:    fmt.Sprintf("http://127.0.0.1:%d/", port),
		Token:  token,
		cmd:    cmd,
		exited: make(chan struct{}),
		logger: logger.With("pid", cmd.Process.Pid),
	}
	go func() {
		err := cmd.Wait()
		stderr.Flush()
		s.logger.Debug("jupyter server exited", "error", err)
		close(s.exited)
	}()

	s.logger.Debug("jupyter server starting", "url", s.URL)

	client, err := s.Client()
	if err != nil {
		_ = s.Stop()
		return nil, err
	}

	readyCtx, cancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer cancel()
	if err := waitReady(readyCtx, client, s.exited, readyInterval); err != nil {
		_ = s.Stop()
		return nil, fmt.Errorf("jupyter server at %s: %w", s.URL, err)
	}

	s.logger.Info("jupyter server ready", "url", s.URL)
	return s, nil
}

// Client returns a client for the launched server.
func (s *Server) Client(opts ...Option) (*Client, error) {
	return NewClient(s.URL, append([]Option{WithToken(s.Token), WithLogger(s.logger)}, opts...)...)
}

// Stop terminates the server and waits for it to exit. Kernels it started
// are shut down by the server itself. Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		select {
		case <-s.exited:
			return
		default:
		}

		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Debug("signal failed, killing", "error", err)
			_ = s.cmd.Process.Kill()
		}

		select {
		case <-s.exited:
		case <-time.After(DefaultStopTimeout):
			s.logger.Warn("jupyter server did not stop, killing")
			if err := s.cmd.Process.Kill(); err != nil {
				s.stopErr = fmt.Errorf("killing jupyter server: %w", err)
			}
			<-s.exited
		}
		s.logger.Debug("jupyter server stopped")
	})
	return s.stopErr
}

// Exited is closed once the server process has exited.
func (s *Server) Exited() <-chan struct{} {
	return s.exited
}

// logWriter sends the server's stderr to the debug log, one record per line.
type logWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	buf    []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line that has no newline. Called once the process
// has exited and its stderr is drained.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.emit(w.buf)
	w.buf = nil
}

func (w *logWriter) emit(line []byte) {
	if line = bytes.TrimSpace(line); len(line) > 0 {
		w.logger.Debug("jupyter", "line", string(line))
	}
}

// waitReady polls /api/status until it succeeds, the process exits or ctx
// is done.
func waitReady(ctx context.Context, client *Client, exited <-chan struct{}, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = client.Status(ctx); lastErr == nil {
			return nil
		}

		select {
		case <-exited:
			return fmt.Errorf("exited before becoming ready (last error: %v)", lastErr)
		case <-ctx.Done():
			return fmt.Errorf("not ready: %w (last error: %v)", ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

// freePort asks the OS for an unused loopback TCP port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
