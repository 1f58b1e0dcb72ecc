package gpubuf

import (
	"fmt"
	"math"

	"github.com/joshuapare/rtkit/accel/rterr"
	"github.com/joshuapare/rtkit/internal/buf"
	"github.com/joshuapare/rtkit/internal/mmfile"
)

// MaxBufferBytes is the largest buffer a graphics device accepts (2 GiB - 1).
const MaxBufferBytes = math.MaxInt32

// Buffer is a fixed-size linear buffer of Count() elements of Stride() bytes.
type Buffer interface {
	// Count returns the number of elements.
	Count() int

	// Stride returns the element size in bytes.
	Stride() int

	// Bytes returns the backing memory, or nil after Close.
	Bytes() []byte

	// Close releases the backing memory. Safe to call more than once.
	Close() error
}

// Syncer is implemented by buffers whose memory can be flushed to its backing store.
type Syncer interface {
	// Sync flushes n bytes starting at byte offset off.
	Sync(off, n int) error
}

// Factory creates buffers. Consumers take a Factory so tests and tools can choose
// the backing memory.
type Factory func(count, stride int) (Buffer, error)

// FactoryFor returns NewMapped when mapped is true and NewHost otherwise.
func FactoryFor(mapped bool) Factory {
	if mapped {
		return NewMapped
	}
	return NewHost
}

// hostBuffer is heap-backed.
type hostBuffer struct {
	data   []byte
	count  int
	stride int
}

// NewHost returns a zeroed heap-backed buffer.
func NewHost(count, stride int) (Buffer, error) {
	size, err := checkSize(count, stride)
	if err != nil {
		return nil, err
	}
	return &hostBuffer{data: make([]byte, size), count: count, stride: stride}, nil
}

func (b *hostBuffer) Count() int    { return b.count }
func (b *hostBuffer) Stride() int   { return b.stride }
func (b *hostBuffer) Bytes() []byte { return b.data }

func (b *hostBuffer) Close() error {
	b.data = nil
	return nil
}

// mappedBuffer is backed by an anonymous memory mapping.
type mappedBuffer struct {
	data    []byte
	count   int
	stride  int
	cleanup func() error
}

// NewMapped returns a zeroed buffer backed by an anonymous mapping.
func NewMapped(count, stride int) (Buffer, error) {
	size, err := checkSize(count, stride)
	if err != nil {
		return nil, err
	}
	data, cleanup, err := mmfile.Anon(size)
	if err != nil {
		return nil, fmt.Errorf("gpubuf: map %d x %d: %w", count, stride, err)
	}
	return &mappedBuffer{data: data, count: count, stride: stride, cleanup: cleanup}, nil
}

func (b *mappedBuffer) Count() int    { return b.count }
func (b *mappedBuffer) Stride() int   { return b.stride }
func (b *mappedBuffer) Bytes() []byte { return b.data }

func (b *mappedBuffer) Close() error {
	if b.data == nil {
		return nil
	}
	b.data = nil
	return b.cleanup()
}

// Sync flushes [off, off+n) of the mapping.
func (b *mappedBuffer) Sync(off, n int) error {
	if b.data == nil {
		return ErrClosed
	}
	region, ok := buf.Slice(b.data, off, n)
	if !ok {
		return fmt.Errorf("%w: sync [%d,+%d) of %d bytes", ErrOutOfRange, off, n, len(b.data))
	}
	return mmfile.Sync(region)
}

func checkSize(count, stride int) (int, error) {
	if count < 0 || stride <= 0 {
		return 0, fmt.Errorf("%w: %d x %d", ErrInvalidSize, count, stride)
	}
	size, ok := buf.ByteSize(count, stride, MaxBufferBytes)
	if !ok {
		return 0, rterr.Newf(rterr.OutOfGraphicsBufferMemory,
			"can't allocate a buffer bigger than 2GB (%d x %d bytes)", count, stride)
	}
	return size, nil
}
