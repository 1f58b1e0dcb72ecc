// Package gpubuf provides the linear buffers that acceleration-structure data lives
// in, plus the batched DWORD copy used when a buffer is replaced by a larger one.
//
// A Buffer is Count() elements of Stride() bytes. Two implementations exist:
//
//   - NewHost: heap memory
//   - NewMapped: a private anonymous memory mapping (heap fallback where mmap is
//     unavailable); also implements Syncer
//
// Buffers are capped at MaxBufferBytes. Requests above the cap fail with an
// rterr.Error carrying rterr.OutOfGraphicsBufferMemory.
//
// # Copying
//
// CopyBuffer moves DWORDs between buffers in batches no larger than MaxBatchDwords,
// the most a single dispatch of the copy kernel can cover:
//
//	n, err := gpubuf.CopyBuffer(old, 0, grown, 0, oldCapacity)
//	if err != nil {
//	    return err
//	}
//
// Buffers are not safe for concurrent use.
package gpubuf
