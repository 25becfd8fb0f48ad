package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a source does not exist. It is never treated as an empty source.
	ErrNotFound = errors.New("source not found")

	// ErrDetectorUnavailable marks a degraded outlier-detector run. The pipeline continues rule-only.
	ErrDetectorUnavailable = errors.New("outlier detector unavailable")
)

// ParseError reports a malformed row under strict parsing.
type ParseError struct {
	Line int      // 1-based line in the source, header included
	Row  []string // raw fields of the offending row
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error on line %d %q: %v", e.Line, e.Row, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
