// Package result defines the coded results returned by every sslkit operation.
//
// Codes live in a fixed registry (module 123) partitioned into ranges:
//
//   - 0-99: fatal, the library instance should be finalized and re-initialized
//   - 100-199: invalid input, the caller corrects the argument or retries later
//   - 200-299: report, expected outcomes such as "would block" or "timeout"
//   - 300-399: protocol and certificate failures
//   - 1500-1620: mirror of the TLS alert numbers 0-120
//
// Failures are returned as *Error values. errors.Is compares codes, so callers
// branch with errors.Is(err, result.ErrIoWouldBlock) no matter how deep the
// underlying cause is wrapped.
package result

import (
	"errors"
	"fmt"
)

// Module is the registry id shared by all codes.
const Module = 123

// Category groups codes by how callers are expected to react.
type Category int

const (
	CategoryFatal Category = iota
	CategoryInput
	CategoryReport
	CategoryProtocol
	CategoryAlert
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryFatal:
		return "fatal"
	case CategoryInput:
		return "input"
	case CategoryReport:
		return "report"
	case CategoryProtocol:
		return "protocol"
	case CategoryAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// Error is a coded failure. Err optionally carries the underlying cause.
type Error struct {
	Code Code
	Err  error
}

// New returns an *Error without a cause.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// Error formats as "ssl(123-0301): verify cert failed: <cause>".
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ssl(%d-%04d): %s", Module, int(e.Code), e.Code)
	}
	return fmt.Sprintf("ssl(%d-%04d): %s: %s", Module, int(e.Code), e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Category is shorthand for e.Code.Category().
func (e *Error) Category() Category {
	return e.Code.Category()
}

// CodeOf returns the code of the outermost *Error in err's chain.
// Errors without a code report CodeErrorLower, nil reports CodeSuccess.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeErrorLower
}

// IsRetryable reports whether err belongs to the input category.
func IsRetryable(err error) bool {
	return err != nil && CodeOf(err).Category() == CategoryInput
}

// IsFatal reports whether err asks for the library to be torn down.
func IsFatal(err error) bool {
	return err != nil && CodeOf(err).Category() == CategoryFatal
}
