// Package buf contains overflow-safe arithmetic and bounds checks for element
// ranges inside linear buffers.
package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// MulOverflowSafe multiplies two non-negative ints, returning ok = false when the
// result would overflow int or either operand is negative.
func MulOverflowSafe(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}

// CheckRange validates that count elements of stride bytes starting at element
// offset fit in a buffer of capacity elements. Returns the end element offset.
//
//	end, err := buf.CheckRange(dst.Count(), off, n, 4)
//	if err != nil {
//	    return fmt.Errorf("copy: %w", err)
//	}
func CheckRange(capacity, offset, count, stride int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset: %d", offset)
	}
	if count < 0 {
		return 0, fmt.Errorf("negative count: %d", count)
	}
	if stride <= 0 {
		return 0, fmt.Errorf("non-positive stride: %d", stride)
	}

	end, ok := AddOverflowSafe(offset, count)
	if !ok {
		return 0, fmt.Errorf("overflow: offset=%d + count=%d", offset, count)
	}
	if _, ok := MulOverflowSafe(end, stride); !ok {
		return 0, fmt.Errorf("overflow: end=%d * stride=%d", end, stride)
	}
	if end > capacity {
		return 0, fmt.Errorf("bounds: end=%d > capacity=%d", end, capacity)
	}
	return end, nil
}

// ByteSize returns count*stride and whether it fits within limit bytes.
func ByteSize(count, stride, limit int) (int, bool) {
	size, ok := MulOverflowSafe(count, stride)
	if !ok || size > limit {
		return 0, false
	}
	return size, true
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	end, ok := AddOverflowSafe(off, n)
	if !ok || end > len(b) {
		return nil, false
	}
	return b[off:end], true
}
