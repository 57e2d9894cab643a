package jupyter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/roach88/nbcheck/internal/kernel"
)

// fakeServer is an in-process Jupyter Server with a toy kernel behind its
// channels websocket. Cells containing "1/0" raise ZeroDivisionError,
// "print(...)" writes to stdout, anything else just runs.
type fakeServer struct {
	t     *testing.T
	token string

	mu             sync.Mutex
	noKernelspecs  bool
	rejectChannels bool
	dropOnExecute  bool
	statusCode     int
	nextID         int
	started        []string
	deleted        []string
	running        map[string]bool
	executed       []kernel.Message

	upgrader websocket.Upgrader
	ts       *httptest.Server
}

func newFakeServer(t *testing.T, token string) *fakeServer {
	t.Helper()
	f := &fakeServer{t: t, token: token, running: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", f.handleStatus)
	mux.HandleFunc("GET /api/kernelspecs", f.handleKernelspecs)
	mux.HandleFunc("POST /api/kernels", f.handleStart)
	mux.HandleFunc("DELETE /api/kernels/{id}", f.handleDelete)
	mux.HandleFunc("GET /api/kernels/{id}/channels", f.handleChannels)

	f.ts = httptest.NewServer(f.auth(mux))
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fakeServer) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithToken(f.token)}, opts...)
	c, err := NewClient(f.ts.URL+"/", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.http.CloseIdleConnections)
	return c
}

func (f *fakeServer) set(fn func(f *fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeServer) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeServer) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeServer) Executed() []kernel.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kernel.Message(nil), f.executed...)
}

func (f *fakeServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.token != "" && r.Header.Get("Authorization") != "token "+f.token {
			writeJSON(w, http.StatusForbidden, map[string]any{"message": "Forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	code := f.statusCode
	f.mu.Unlock()
	if code != 0 {
		writeJSON(w, code, map[string]any{"message": "not yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": "2024-01-01T00:00:00Z", "kernels": 0})
}

func (f *fakeServer) handleKernelspecs(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	missing := f.noKernelspecs
	code := f.statusCode
	f.mu.Unlock()

	switch {
	case missing:
		http.NotFound(w, r)
	case code != 0:
		writeJSON(w, code, map[string]any{"message": "broken"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"default": "python3",
			"kernelspecs": map[string]any{
				"python3": map[string]any{"name": "python3", "spec": map[string]any{"language": "python", "display_name": "Python 3"}},
				"ir":      map[string]any{"name": "ir", "spec": map[string]any{"language": "R", "display_name": "R"}},
			},
		})
	}
}

func (f *fakeServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("kernel-%d", f.nextID)
	f.started = append(f.started, body.Name)
	f.running[id] = true
	f.mu.Unlock()

	name := body.Name
	if name == "" {
		name = "python3"
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "name": name, "execution_state": "starting"})
}

func (f *fakeServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Kernel does not exist: " + id})
		return
	}
	delete(f.running, id)
	f.deleted = append(f.deleted, id)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	reject := f.rejectChannels
	drop := f.dropOnExecute
	f.mu.Unlock()

	if reject {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "no"})
		return
	}
	if r.URL.Query().Get("session_id") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "session_id required"})
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req kernel.Message
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		if req.Type() != kernel.MsgExecuteRequest {
			continue
		}
		f.mu.Lock()
		f.executed = append(f.executed, req)
		f.mu.Unlock()
		if drop {
			return
		}
		for _, msg := range toyReply(req) {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// toyReply builds the broadcasts and shell reply for an execute_request.
func toyReply(req kernel.Message) []*kernel.Message {
	code, _ := req.Content["code"].(string)
	n := 0
	reply := func(channel, msgType string, content map[string]any) *kernel.Message {
		n++
		return &kernel.Message{
			Header:       kernel.Header{MsgID: fmt.Sprintf("%s-reply-%d", req.Header.MsgID, n), MsgType: msgType, Version: kernel.ProtocolVersion},
			ParentHeader: req.Header,
			Metadata:     map[string]any{},
			Content:      content,
			Channel:      channel,
		}
	}

	msgs := []*kernel.Message{
		reply(kernel.ChannelIOPub, kernel.MsgStatus, map[string]any{"execution_state": kernel.StateBusy}),
		reply(kernel.ChannelIOPub, kernel.MsgExecuteInput, map[string]any{"code": code, "execution_count": 1}),
	}
	status := "ok"
	switch {
	case strings.Contains(code, "1/0"):
		status = "error"
		msgs = append(msgs, reply(kernel.ChannelIOPub, kernel.MsgError, map[string]any{
			"ename":     "ZeroDivisionError",
			"evalue":    "division by zero",
			"traceback": []string{"Traceback (most recent call last)", "ZeroDivisionError: division by zero"},
		}))
	case strings.HasPrefix(code, "print("):
		text := strings.TrimSuffix(strings.TrimPrefix(code, "print("), ")") + "\n"
		msgs = append(msgs, reply(kernel.ChannelIOPub, kernel.MsgStream, map[string]any{"name": "stdout", "text": text}))
	}
	msgs = append(msgs,
		reply(kernel.ChannelShell, kernel.MsgExecuteReply, map[string]any{"status": status, "execution_count": 1}),
		reply(kernel.ChannelIOPub, kernel.MsgStatus, map[string]any{"execution_state": kernel.StateIdle}),
	)
	return msgs
}
