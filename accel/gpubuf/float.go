package gpubuf

import (
	"fmt"

	"github.com/joshuapare/rtkit/internal/buf"
)

// Float32s reads n float32 DWORDs starting at DWORD offset off.
func Float32s(b Buffer, off, n int) ([]float32, error) {
	data := b.Bytes()
	if data == nil {
		return nil, ErrClosed
	}
	if _, err := buf.CheckRange(len(data)/buf.DwordSize, off, n, buf.DwordSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = buf.F32(data, off+i)
	}
	return out, nil
}

// PutFloat32s writes v starting at DWORD offset off.
func PutFloat32s(b Buffer, off int, v []float32) error {
	data := b.Bytes()
	if data == nil {
		return ErrClosed
	}
	if _, err := buf.CheckRange(len(data)/buf.DwordSize, off, len(v), buf.DwordSize); err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	for i, f := range v {
		buf.PutF32(data, off+i, f)
	}
	return nil
}

// SizeDwords returns the buffer size in DWORDs.
func SizeDwords(b Buffer) int {
	return b.Count() * b.Stride() / buf.DwordSize
}
