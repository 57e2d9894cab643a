package notebook

import (
	"errors"
	"fmt"
)

// ParseError reports a file that could not be read as a notebook.
//
// A ParseError is never fatal: callers log it and treat the file as not
// being a test document.
type ParseError struct {
	// Path is the file that failed to parse (empty for in-memory input).
	Path string

	// Err is the underlying decode, schema or conversion error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("could not parse notebook: %v", e.Err)
	}
	return fmt.Sprintf("could not parse %s as a notebook: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError returns true if err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// errUnsupportedFormat is returned for nbformat versions this package cannot convert.
type errUnsupportedFormat struct {
	major int
}

func (e errUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported nbformat version %d", e.major)
}
