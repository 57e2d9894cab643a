package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/nbcheck/internal/harness"
)

// marshalTrace converts a cell trace to JSON TEXT for storage.
// HTML escaping is disabled so message types are stored as written.
func marshalTrace(trace []harness.TraceEvent) (string, error) {
	if trace == nil {
		trace = []harness.TraceEvent{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(trace); err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalTrace parses trace JSON TEXT. Empty input is an empty trace.
func unmarshalTrace(data string) ([]harness.TraceEvent, error) {
	trace := []harness.TraceEvent{}
	if data == "" {
		return trace, nil
	}
	if err := json.Unmarshal([]byte(data), &trace); err != nil {
		return nil, fmt.Errorf("unmarshal trace: %w", err)
	}
	return trace, nil
}
