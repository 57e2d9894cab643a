package jupyter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/nbcheck/internal/kernel"
)

// ErrNotSupported is returned when the server does not implement an
// endpoint, such as /api/kernelspecs on servers that predate it.
var ErrNotSupported = errors.New("jupyter: endpoint not supported by server")

// APIError is a non-success response from the server's REST API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Client talks to one Jupyter Server over its REST API and kernel channel
// websockets.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
	ids    kernel.IDGenerator
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the token sent in the Authorization header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithIDGenerator replaces the UUIDv7 generator for session and message ids.
func WithIDGenerator(ids kernel.IDGenerator) Option {
	return func(c *Client) { c.ids = ids }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the server at rawURL, e.g.
// "http://127.0.0.1:8888/" or "https://hub.example.com/user/me/".
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", rawURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", rawURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", rawURL)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		ids:    kernel.UUIDv7Generator{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the server base URL.
func (c *Client) URL() string {
	return c.base.String()
}

// KernelSpecs is the response of GET /api/kernelspecs.
type KernelSpecs struct {
	Default     string                    `json:"default"`
	Kernelspecs map[string]KernelSpecInfo `json:"kernelspecs"`
}

// KernelSpecInfo describes one installed kernel.
type KernelSpecInfo struct {
	Name string `json:"name"`
	Spec struct {
		Language    string `json:"language"`
		DisplayName string `json:"display_name"`
	} `json:"spec"`
}

// Has reports whether a kernelspec named name is installed.
func (k *KernelSpecs) Has(name string) bool {
	_, ok := k.Kernelspecs[name]
	return ok
}

// Names returns the installed kernelspec names.
func (k *KernelSpecs) Names() []string {
	names := make([]string, 0, len(k.Kernelspecs))
	for name := range k.Kernelspecs {
		names = append(names, name)
	}
	return names
}

// KernelModel is a running kernel as reported by /api/kernels.
type KernelModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
}

// Status checks that the server is up and the token is accepted.
func (c *Client) Status(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "api/status", nil, nil)
}

// KernelSpecs lists installed kernels. It returns ErrNotSupported when the
// server has no kernelspecs endpoint.
func (c *Client) KernelSpecs(ctx context.Context) (*KernelSpecs, error) {
	var specs KernelSpecs
	err := c.do(ctx, http.MethodGet, "api/kernelspecs", nil, &specs)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}
	if err != nil {
		return nil, err
	}
	return &specs, nil
}

// StartKernel starts a kernel from the named kernelspec. An empty name asks
// the server for its default kernel.
func (c *Client) StartKernel(ctx context.Context, name string) (*KernelModel, error) {
	body := map[string]any{}
	if name != "" {
		body["name"] = name
	}
	var model KernelModel
	if err := c.do(ctx, http.MethodPost, "api/kernels", body, &model); err != nil {
		return nil, err
	}
	if model.ID == "" {
		return nil, fmt.Errorf("POST api/kernels: response has no kernel id")
	}
	c.logger.Debug("kernel started", "kernel_id", model.ID, "name", model.Name)
	return &model, nil
}

// ShutdownKernel stops a kernel. A kernel that is already gone is not an
// error.
func (c *Client) ShutdownKernel(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "api/kernels/"+url.PathEscape(id), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err == nil {
		c.logger.Debug("kernel stopped", "kernel_id", id)
	}
	return err
}

// Connect opens the channels websocket of a running kernel. The returned
// session does not own the kernel: closing it leaves the kernel running
// unless it was created by a Starter.
func (c *Client) Connect(ctx context.Context, kernelID string) (*Session, error) {
	sessionID := c.ids.Generate()

	u := c.endpoint("api/kernels/" + url.PathEscape(kernelID) + "/channels")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.headers())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connecting to kernel %s: %w", kernelID, &APIError{
				Method:     http.MethodGet,
				Path:       u.Path,
				StatusCode: resp.StatusCode,
			})
		}
		return nil, fmt.Errorf("connecting to kernel %s: %w", kernelID, err)
	}

	c.logger.Debug("kernel channels connected", "kernel_id", kernelID, "session", sessionID)
	return newSession(c, kernelID, sessionID, conn), nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path
	u.RawPath = ""
	u.RawQuery = ""
	return &u
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "token "+c.token)
	}
	return h
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: encoding request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path).String(), body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header = c.headers()
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts the "message" field Jupyter puts in error bodies.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
