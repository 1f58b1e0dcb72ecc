package buf

import (
	"encoding/binary"
	"math"
)

// DwordSize is the size of one buffer element in the DWORD-addressed buffers.
const DwordSize = 4

// U32 reads the little-endian DWORD at element index i. Returns 0 when out of range.
func U32(b []byte, i int) uint32 {
	off := i * DwordSize
	if i < 0 || off+DwordSize > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[off:])
}

// PutU32 writes v as a little-endian DWORD at element index i.
// Returns false when i is out of range.
func PutU32(b []byte, i int, v uint32) bool {
	off := i * DwordSize
	if i < 0 || off+DwordSize > len(b) {
		return false
	}
	binary.LittleEndian.PutUint32(b[off:], v)
	return true
}

// F32 reads the DWORD at element index i as a float32.
func F32(b []byte, i int) float32 {
	return math.Float32frombits(U32(b, i))
}

// PutF32 writes f at element index i.
func PutF32(b []byte, i int, f float32) bool {
	return PutU32(b, i, math.Float32bits(f))
}
