//go:build linux || darwin || freebsd

// Package mmfile provides platform-specific helpers for read-write memory mappings
// that back host-visible buffers.
package mmfile

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Mapped reports whether this platform backs Anon with a real mapping.
const Mapped = true

// Anon creates a private read-write anonymous mapping of size bytes.
// The returned cleanup unmaps it; calling cleanup twice is a no-op.
func Anon(size int) ([]byte, func() error, error) {
	if size < 0 {
		return nil, nil, fmt.Errorf("mmfile: negative size %d", size)
	}
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmfile: mmap %d bytes: %w", size, err)
	}
	released := false
	cleanup := func() error {
		if released {
			return nil
		}
		released = true
		err := unix.Munmap(data)
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return data, cleanup, nil
}

// Sync flushes a sub-range of a mapping.
func Sync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}
