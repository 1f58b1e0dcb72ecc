//go:build !linux && !darwin && !freebsd

package mmfile

import "fmt"

// Mapped reports whether this platform backs Anon with a real mapping.
const Mapped = false

// Anon allocates heap memory when mmap is not available.
func Anon(size int) ([]byte, func() error, error) {
	if size < 0 {
		return nil, nil, fmt.Errorf("mmfile: negative size %d", size)
	}
	return make([]byte, size), func() error { return nil }, nil
}

// Sync is a no-op for heap-backed memory.
func Sync(_ []byte) error { return nil }
