package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/notebook"
	"github.com/roach88/nbcheck/internal/testutil"
)

// Kernel modes a scenario can run against.
const (
	// KernelToy answers with testutil.ToyKernel, a small stateful interpreter.
	KernelToy = "toy"

	// KernelScripted answers each submitted cell with the next scripted reply.
	KernelScripted = "scripted"
)

// Scenario is a conformance scenario for the cell runner: a notebook, the
// kernel behaviour it runs against, and the expected per-cell outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario (and its golden file).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Notebook is the notebook path, relative to the scenario file.
	Notebook string `yaml:"notebook"`

	// Kernel selects the fake kernel: "toy" (default) or "scripted".
	Kernel string `yaml:"kernel,omitempty"`

	// StartError, when set, makes the kernel fail to start with this message.
	StartError string `yaml:"start_error,omitempty"`

	// Preamble lists messages the kernel broadcasts before the first cell
	// runs, such as the starting status of a fresh kernel.
	Preamble []ScriptedMessage `yaml:"preamble,omitempty"`

	// Replies are consumed one per submitted cell in scripted mode.
	Replies []Reply `yaml:"replies,omitempty"`

	// Expect lists per-cell outcomes.
	Expect []CellExpectation `yaml:"expect,omitempty"`

	// Skipped expects the notebook to be skipped as not a test document.
	Skipped bool `yaml:"skipped,omitempty"`
}

// Reply is the scripted kernel answer to one cell.
type Reply struct {
	// Code, when set, must equal the submitted cell source.
	Code string `yaml:"code,omitempty"`

	Messages []ScriptedMessage `yaml:"messages"`
}

// ScriptedMessage describes one broadcast message (or a timed out poll).
type ScriptedMessage struct {
	// Type is a message type (status, stream, execute_result, error, ...)
	// or "timeout" for a poll that receives nothing.
	Type string `yaml:"type"`

	State     string   `yaml:"state,omitempty"`
	Name      string   `yaml:"name,omitempty"`
	Text      string   `yaml:"text,omitempty"`
	Ename     string   `yaml:"ename,omitempty"`
	Evalue    string   `yaml:"evalue,omitempty"`
	Traceback []string `yaml:"traceback,omitempty"`

	// Parent sets the parent msg_id, marking a message that answers some
	// other request.
	Parent string `yaml:"parent,omitempty"`
}

// CellExpectation is the expected outcome of one code cell.
type CellExpectation struct {
	Cell          int    `yaml:"cell"`
	Pass          bool   `yaml:"pass"`
	ErrorContains string `yaml:"error_contains,omitempty"`
}

// ScenarioResult holds a scenario run and the expectations it violated.
type ScenarioResult struct {
	File   *FileResult
	Errors []string
	Pass   bool
}

// AddError records a violated expectation.
func (r *ScenarioResult) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// LoadScenario reads and parses a scenario YAML file. The notebook path is
// resolved relative to the scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Notebook != "" && !filepath.IsAbs(scenario.Notebook) {
		scenario.Notebook = filepath.Join(filepath.Dir(path), scenario.Notebook)
	}
	if scenario.Kernel == "" {
		scenario.Kernel = KernelToy
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Notebook == "" {
		return fmt.Errorf("notebook is required")
	}
	switch s.Kernel {
	case KernelToy:
		if len(s.Replies) > 0 {
			return fmt.Errorf("replies are only used with kernel %q", KernelScripted)
		}
	case KernelScripted:
	default:
		return fmt.Errorf("unknown kernel %q: must be %q or %q", s.Kernel, KernelToy, KernelScripted)
	}
	for i, r := range s.Replies {
		for j, m := range r.Messages {
			if m.Type == "" {
				return fmt.Errorf("replies[%d].messages[%d]: type is required", i, j)
			}
		}
	}
	for i, e := range s.Expect {
		if e.Cell < 0 {
			return fmt.Errorf("expect[%d]: cell must be >= 0", i)
		}
		if e.Pass && e.ErrorContains != "" {
			return fmt.Errorf("expect[%d]: error_contains requires pass: false", i)
		}
	}
	return nil
}

// Starter returns a kernel starter that serves the scenario's fake kernel.
func (s *Scenario) Starter() *testutil.FakeStarter {
	starter := &testutil.FakeStarter{}
	if s.StartError != "" {
		starter.Err = fmt.Errorf("%s", s.StartError)
		return starter
	}
	starter.New = func(doc *notebook.Document) kernel.Session {
		var sess *testutil.ScriptedSession
		if s.Kernel == KernelScripted {
			sess = testutil.NewScriptedSession("scripted", s.responder())
		} else {
			sess = testutil.NewToyKernel().Session("toy")
		}
		for _, m := range s.Preamble {
			sess.Inject(m.event())
		}
		return sess
	}
	return starter
}

// responder answers each submitted cell with the next reply.
func (s *Scenario) responder() testutil.Responder {
	next := 0
	return func(code string) []testutil.Event {
		if next >= len(s.Replies) {
			return []testutil.Event{testutil.Status(kernel.StateBusy), testutil.Status(kernel.StateIdle)}
		}
		reply := s.Replies[next]
		next++

		if reply.Code != "" && reply.Code != code {
			return []testutil.Event{
				testutil.Error("ScenarioMismatch", fmt.Sprintf("reply %d expects code %q, got %q", next-1, reply.Code, code)),
			}
		}
		events := make([]testutil.Event, 0, len(reply.Messages))
		for _, m := range reply.Messages {
			events = append(events, m.event())
		}
		return events
	}
}

func (m ScriptedMessage) event() testutil.Event {
	var ev testutil.Event
	switch m.Type {
	case "timeout":
		return testutil.Timeout()
	case kernel.MsgStatus:
		ev = testutil.Status(m.State)
	case kernel.MsgStream:
		name := m.Name
		if name == "" {
			name = "stdout"
		}
		ev = testutil.Stream(name, m.Text)
	case kernel.MsgExecuteResult:
		ev = testutil.ExecuteResult(m.Text)
	case kernel.MsgError:
		ev = testutil.Error(m.Ename, m.Evalue, m.Traceback...)
	default:
		ev = testutil.Event{Msg: &kernel.Message{
			Header:  kernel.Header{MsgType: m.Type},
			Content: map[string]any{},
		}}
	}
	if m.Parent != "" {
		ev = testutil.Foreign(ev, m.Parent)
	}
	return ev
}

// RunScenario runs the scenario's notebook through a Harness backed by its
// fake kernel and checks the expectations.
//
// The returned error is reserved for failures to run at all other than a
// kernel start failure, which is itself an outcome scenarios can expect.
func RunScenario(ctx context.Context, s *Scenario) (*ScenarioResult, error) {
	h := New(s.Starter(), nil)

	file, err := h.RunFile(ctx, s.Notebook, nil)
	result := &ScenarioResult{File: file, Pass: true}

	if err != nil {
		if !IsKernelStartError(err) {
			return nil, err
		}
		if s.StartError == "" {
			result.AddError(fmt.Sprintf("unexpected kernel start failure: %v", err))
		}
		return result, nil
	}
	if s.StartError != "" {
		result.AddError("expected kernel start failure, got none")
	}

	for _, e := range EvaluateExpectations(s, file) {
		result.AddError(e)
	}
	return result, nil
}
