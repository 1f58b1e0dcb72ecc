package gpubuf

import "errors"

var (
	// ErrInvalidSize indicates a negative element count or a non-positive stride.
	ErrInvalidSize = errors.New("gpubuf: invalid buffer size")

	// ErrOutOfRange indicates a copy or access outside the buffer.
	ErrOutOfRange = errors.New("gpubuf: range out of bounds")

	// ErrClosed indicates use of a buffer after Close.
	ErrClosed = errors.New("gpubuf: buffer closed")
)
