// Package dirty tracks which byte ranges of a gpubuf.Buffer were written since the
// last flush.
//
// Writers record ranges with Add. Ranges rounds them out to the granule (4 KiB by
// default), sorts them, and merges overlapping or touching ranges. Flush hands the
// coalesced ranges to the buffer when it implements gpubuf.Syncer (msync for mapped
// buffers) and then forgets them.
//
//	tr := dirty.NewTracker(buf)
//	tr.Add(off, n)
//	if err := tr.Flush(ctx); err != nil {
//	    return err
//	}
//
// When the owner swaps in a new buffer, Rebind points the tracker at it and marks
// the whole new buffer dirty.
//
// NOT thread-safe.
package dirty
