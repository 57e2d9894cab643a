package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Load reads the file at path and returns it as a canonical Document.
//
// Any failure (unreadable file, malformed JSON, unknown nbformat, structure
// rejected by the schema) is returned as a *ParseError carrying path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	doc, err := parse(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	doc.Path = path
	return doc, nil
}

// Parse decodes raw notebook JSON and converts it to the canonical schema.
func Parse(data []byte) (*Document, error) {
	doc, err := parse(data)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return doc, nil
}

// Read is Parse over an io.Reader.
func Read(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return Parse(data)
}

func parse(data []byte) (*Document, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	major, err := detectFormat(raw)
	if err != nil {
		return nil, err
	}

	if err := validateStructure(major, raw); err != nil {
		return nil, err
	}

	var doc *Document
	switch major {
	case 4:
		doc, err = fromV4(raw)
	case 3, 2:
		doc, err = fromWorksheets(raw, major)
	case 1:
		doc, err = fromV1(raw)
	default:
		return nil, errUnsupportedFormat{major: major}
	}
	if err != nil {
		return nil, fmt.Errorf("converting nbformat %d: %w", major, err)
	}

	doc.OrigFormat = major
	return doc, nil
}

// decodeObject decodes a JSON object keeping numbers as json.Number so they
// survive a round trip unchanged.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid JSON: trailing data after notebook object")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("notebook must be a JSON object, got %T", v)
	}
	return obj, nil
}

// detectFormat returns the nbformat major version of a decoded notebook.
func detectFormat(raw map[string]any) (int, error) {
	v, ok := raw["nbformat"]
	if !ok {
		return 0, fmt.Errorf("notebook does not declare an nbformat version")
	}
	major, ok := asInt(v)
	if !ok {
		return 0, fmt.Errorf("nbformat must be an integer, got %v", v)
	}
	if major < 1 || major > Format {
		return 0, errUnsupportedFormat{major: major}
	}
	return major, nil
}

// asInt converts a decoded JSON number to int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
