package gpubuf

import (
	"fmt"

	"github.com/joshuapare/rtkit/internal/buf"
)

const (
	copyGroupSize         = 256
	copyElementsPerThread = 8
	maxThreadGroups       = 65535

	// MaxBatchDwords is the most DWORDs one copy dispatch moves.
	MaxBatchDwords = copyGroupSize * copyElementsPerThread * maxThreadGroups
)

// CopyBuffer copies sizeDwords DWORDs from src at srcOffset to dst at dstOffset
// (both in DWORDs). Returns the number of batches the copy was split into.
func CopyBuffer(src Buffer, srcOffset int, dst Buffer, dstOffset int, sizeDwords int) (int, error) {
	return copyBatched(src, srcOffset, dst, dstOffset, sizeDwords, MaxBatchDwords)
}

func copyBatched(src Buffer, srcOffset int, dst Buffer, dstOffset int, sizeDwords, batchDwords int) (int, error) {
	s, d := src.Bytes(), dst.Bytes()
	if s == nil || d == nil {
		return 0, ErrClosed
	}
	if _, err := buf.CheckRange(len(s)/buf.DwordSize, srcOffset, sizeDwords, buf.DwordSize); err != nil {
		return 0, fmt.Errorf("%w: source: %v", ErrOutOfRange, err)
	}
	if _, err := buf.CheckRange(len(d)/buf.DwordSize, dstOffset, sizeDwords, buf.DwordSize); err != nil {
		return 0, fmt.Errorf("%w: destination: %v", ErrOutOfRange, err)
	}

	batches := 0
	for remaining := sizeDwords; remaining > 0; {
		n := min(remaining, batchDwords)
		copy(d[dstOffset*buf.DwordSize:(dstOffset+n)*buf.DwordSize],
			s[srcOffset*buf.DwordSize:(srcOffset+n)*buf.DwordSize])

		remaining -= n
		srcOffset += n
		dstOffset += n
		batches++
	}
	return batches, nil
}

// DispatchGroups returns the thread groups needed to copy n DWORDs in one batch.
func DispatchGroups(n int) int {
	return DivUp(n, copyElementsPerThread*copyGroupSize)
}

// DivUp returns x/y rounded up. y must be positive.
func DivUp(x, y int) int {
	return (x + y - 1) / y
}
