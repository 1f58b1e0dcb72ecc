// Package rterr defines the error type raised by the ray-tracing resource layer
// when a failure must be distinguishable by kind rather than by message.
package rterr

import (
	"errors"
	"fmt"
)

// Code classifies an Error.
type Code int

const (
	Unknown Code = iota
	// OutOfGraphicsBufferMemory means a buffer would exceed the addressable size.
	OutOfGraphicsBufferMemory
	// UnsupportedBackend means the requested backend is not available.
	UnsupportedBackend
	// ResourceLeak means acceleration structures outlived their context.
	ResourceLeak
)

func (c Code) String() string {
	switch c {
	case OutOfGraphicsBufferMemory:
		return "OutOfGraphicsBufferMemory"
	case UnsupportedBackend:
		return "UnsupportedBackend"
	case ResourceLeak:
		return "ResourceLeak"
	default:
		return "Unknown"
	}
}

// Error is a coded error. Two Errors match under errors.Is when their codes match.
type Error struct {
	Code Code
	Msg  string
	Err  error // optional cause
}

// Sentinels for errors.Is comparisons.
var (
	ErrOutOfGraphicsBufferMemory = &Error{Code: OutOfGraphicsBufferMemory}
	ErrUnsupportedBackend        = &Error{Code: UnsupportedBackend}
	ErrResourceLeak              = &Error{Code: ResourceLeak}
)

// New returns an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to cause.
func Wrap(code Code, cause error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("rt: %s: %v", msg, e.Err)
	}
	return "rt: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or Unknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
