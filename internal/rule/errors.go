package rule

import (
	"errors"
	"fmt"
)

// ErrInvalidRule is matched by every rule text decoding failure.
var ErrInvalidRule = errors.New("invalid rule")

// ParseError describes why rule text was rejected. Offset is the byte index
// into the input where decoding stopped.
type ParseError struct {
	Field  string
	Offset int
	Reason string
}

// Error returns the formatted error string.
func (e *ParseError) Error() string {
	return fmt.Sprintf("rule: parse: %s at offset %d: %s", e.Field, e.Offset, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidRule).
func (e *ParseError) Unwrap() error {
	return ErrInvalidRule
}
