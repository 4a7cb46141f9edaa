// Package errs defines the sentinel errors shared by the tape packages.
//
// Callers should test for these with errors.Is, since most call sites wrap
// them with additional context.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDecimal is returned when a decimal string cannot be parsed.
	ErrInvalidDecimal = errors.New("invalid decimal")
	// ErrInvalidTimestamp is returned when a timestamp string cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrUnexpectedEOF is returned when input ends in the middle of a value.
	ErrUnexpectedEOF = errors.New("unexpected end of input")

	// ErrCorruptedStream reports a desynchronized binary stream.
	ErrCorruptedStream = errors.New("corrupted stream")
	// ErrCorruptedMessage reports a well-framed message with a malformed body.
	ErrCorruptedMessage = errors.New("corrupted message")
	// ErrUnknownMessage reports a message type that is not part of the protocol.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrUnknownRecord reports a record id or name missing from the scheme.
	ErrUnknownRecord = errors.New("unknown record")

	// ErrInvalidArgument reports a rejected configuration or argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState reports an operation invoked in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrClosed is returned by operations on a closed component.
	ErrClosed = errors.New("closed")
)

// ParseError describes a malformed textual value.
type ParseError struct {
	Input  string
	Pos    int
	Reason string
	kind   error
}

// NewParseError creates a ParseError that unwraps to kind.
func NewParseError(kind error, input string, pos int, reason string) *ParseError {
	return &ParseError{Input: input, Pos: pos, Reason: reason, kind: kind}
}

func (e *ParseError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%v: %q at position %d: %s", e.kind, e.Input, e.Pos, e.Reason)
	}

	return fmt.Sprintf("%v: %q: %s", e.kind, e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.kind
}
