package dirty

import (
	"context"
	"fmt"
	"slices"

	"github.com/joshuapare/rtkit/accel/gpubuf"
)

const (
	defaultRangeCapacity = 64

	// DefaultGranule is the alignment ranges are rounded to (one OS page).
	DefaultGranule = 4096
)

// Range is a dirty byte range within the tracked buffer.
type Range struct {
	Off int
	Len int
}

// End returns the exclusive end offset.
func (r Range) End() int { return r.Off + r.Len }

// Tracker accumulates dirty ranges for one buffer.
type Tracker struct {
	buf     gpubuf.Buffer
	ranges  []Range // raw, coalesced on demand
	granule int
	flushes int
}

// NewTracker returns a tracker for b with the default granule.
func NewTracker(b gpubuf.Buffer) *Tracker {
	return NewTrackerGranule(b, DefaultGranule)
}

// NewTrackerGranule returns a tracker that aligns ranges to granule bytes.
// A non-positive granule disables alignment.
func NewTrackerGranule(b gpubuf.Buffer, granule int) *Tracker {
	if granule <= 0 {
		granule = 1
	}
	return &Tracker{
		buf:     b,
		ranges:  make([]Range, 0, defaultRangeCapacity),
		granule: granule,
	}
}

// Add records [off, off+length) as dirty. Empty and negative ranges are ignored.
func (t *Tracker) Add(off, length int) {
	if length <= 0 || off < 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: off, Len: length})
}

// AddDwords records n DWORDs starting at DWORD offset off as dirty.
func (t *Tracker) AddDwords(off, n int) {
	t.Add(off*4, n*4)
}

// Pending returns the number of raw ranges recorded since the last flush.
func (t *Tracker) Pending() int { return len(t.ranges) }

// Flushes returns the number of successful Flush calls that had work to do.
func (t *Tracker) Flushes() int { return t.flushes }

// Ranges returns the dirty ranges aligned to the granule, sorted, merged and
// clipped to the buffer size.
func (t *Tracker) Ranges() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	limit := len(t.buf.Bytes())
	aligned := make([]Range, 0, len(t.ranges))
	for _, r := range t.ranges {
		start := (r.Off / t.granule) * t.granule
		end := r.End()
		if end%t.granule != 0 {
			end = (end/t.granule + 1) * t.granule
		}
		end = min(end, limit)
		if start >= end {
			continue
		}
		aligned = append(aligned, Range{Off: start, Len: end - start})
	}
	if len(aligned) == 0 {
		return nil
	}

	slices.SortFunc(aligned, func(a, b Range) int { return a.Off - b.Off })

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.End() {
			current.Len = max(current.End(), next.End()) - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

// Flush syncs the dirty ranges when the buffer supports it and clears them.
// On cancellation some ranges may already have been synced; all stay recorded.
func (t *Tracker) Flush(ctx context.Context) error {
	if len(t.ranges) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s, ok := t.buf.(gpubuf.Syncer); ok {
		for _, r := range t.Ranges() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.Sync(r.Off, r.Len); err != nil {
				return fmt.Errorf("dirty: sync [%d,%d): %w", r.Off, r.End(), err)
			}
		}
	}

	t.ranges = t.ranges[:0]
	t.flushes++
	return nil
}

// Reset forgets all dirty ranges without syncing.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// Rebind points the tracker at b, drops the old buffer's ranges, and marks all of
// b dirty.
func (t *Tracker) Rebind(b gpubuf.Buffer) {
	t.buf = b
	t.ranges = t.ranges[:0]
	t.Add(0, len(b.Bytes()))
}

// Buffer returns the tracked buffer.
func (t *Tracker) Buffer() gpubuf.Buffer { return t.buf }
