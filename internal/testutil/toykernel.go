package testutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/nbcheck/internal/kernel"
)

var (
	assignRe = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*(.+)$`)
	assertRe = regexp.MustCompile(`^assert\s+([A-Za-z_]\w*)\s*==\s*(.+)$`)
	printRe  = regexp.MustCompile(`^print\((.*)\)$`)
	raiseRe  = regexp.MustCompile(`^raise\s+([A-Za-z_]\w*)(?:\((.*)\))?$`)
	sleepRe  = regexp.MustCompile(`^sleep\((\d+)\)$`)
	identRe  = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

// ToyKernel is a tiny stateful interpreter that replies like a Python
// kernel. Variables persist across Execute calls on the same ToyKernel,
// which is what lets tests observe cell ordering through a shared session.
//
// One statement per line:
//
//	x = 1               assignment (value kept as text)
//	assert x == 1       AssertionError on mismatch, NameError if x is unset
//	print(hello)        stream output on stdout
//	raise ValueError(m) error with name ValueError and value m
//	1/0                 any "/0" raises ZeroDivisionError
//	sleep(3)            three polls time out before the kernel answers
//	x                   execute_result with the value of x
type ToyKernel struct {
	mu   sync.Mutex
	vars map[string]string
}

// NewToyKernel returns an interpreter with no variables defined.
func NewToyKernel() *ToyKernel {
	return &ToyKernel{vars: map[string]string{}}
}

// Session returns a ScriptedSession backed by this interpreter.
func (k *ToyKernel) Session(id string) *ScriptedSession {
	return NewScriptedSession(id, k.Respond)
}

// Respond implements Responder.
func (k *ToyKernel) Respond(code string) []Event {
	k.mu.Lock()
	defer k.mu.Unlock()

	events := []Event{Status(kernel.StateBusy), executeInput(code)}
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out, failed := k.eval(line)
		events = append(events, out...)
		if failed {
			break
		}
	}
	return append(events, Status(kernel.StateIdle))
}

// eval runs one line and reports whether it raised.
func (k *ToyKernel) eval(line string) ([]Event, bool) {
	if m := sleepRe.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[1])
		out := make([]Event, n)
		for i := range out {
			out[i] = Timeout()
		}
		return out, false
	}
	if strings.Contains(line, "/0") {
		return []Event{Error("ZeroDivisionError", "division by zero", "Traceback (most recent call last)", "ZeroDivisionError: division by zero")}, true
	}
	if m := raiseRe.FindStringSubmatch(line); m != nil {
		return []Event{Error(m[1], strings.Trim(m[2], `"'`))}, true
	}
	if m := printRe.FindStringSubmatch(line); m != nil {
		return []Event{Stream("stdout", strings.Trim(m[1], `"'`)+"\n")}, false
	}
	if m := assertRe.FindStringSubmatch(line); m != nil {
		got, ok := k.vars[m[1]]
		if !ok {
			return []Event{nameError(m[1])}, true
		}
		if got != strings.TrimSpace(m[2]) {
			return []Event{Error("AssertionError", "")}, true
		}
		return nil, false
	}
	if m := assignRe.FindStringSubmatch(line); m != nil {
		k.vars[m[1]] = strings.TrimSpace(m[2])
		return nil, false
	}
	if identRe.MatchString(line) {
		v, ok := k.vars[line]
		if !ok {
			return []Event{nameError(line)}, true
		}
		return []Event{ExecuteResult(v)}, false
	}
	return nil, false
}

func nameError(name string) Event {
	return Error("NameError", fmt.Sprintf("name '%s' is not defined", name))
}

func executeInput(code string) Event {
	return Event{Msg: &kernel.Message{
		Header:  kernel.Header{MsgType: kernel.MsgExecuteInput},
		Content: map[string]any{"code": code},
	}}
}
