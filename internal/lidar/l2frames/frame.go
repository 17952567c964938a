package l2frames

import (
	"sync"
	"time"
)

// ScanFrame is one sweep of range readings, one distance (mm) per step.
// A zero distance means no echo.
type ScanFrame struct {
	Distances []int64
	Timestamp time.Time
	Seq       uint64 // increases by one per stored frame
}

// Len returns the number of steps in the frame.
func (f ScanFrame) Len() int { return len(f.Distances) }

// Clone returns a deep copy of f.
func (f ScanFrame) Clone() ScanFrame {
	out := f
	out.Distances = append([]int64(nil), f.Distances...)
	return out
}

// ScanBuffer holds the most recent frame written by the sensor link. Store
// and Snapshot both copy under the lock, so the processing loop never sees a
// partially written frame.
type ScanBuffer struct {
	mu    sync.Mutex
	frame ScanFrame
}

// NewScanBuffer returns an empty buffer.
func NewScanBuffer() *ScanBuffer {
	return &ScanBuffer{}
}

// Store replaces the buffered frame with a copy of distances.
func (b *ScanBuffer) Store(distances []int64, ts time.Time) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame.Distances = append(b.frame.Distances[:0], distances...)
	b.frame.Timestamp = ts
	b.frame.Seq++
	return b.frame.Seq
}

// Snapshot returns a copy of the latest frame. ok is false while the buffer
// is empty.
func (b *ScanBuffer) Snapshot() (frame ScanFrame, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frame.Distances) == 0 {
		return ScanFrame{}, false
	}
	return b.frame.Clone(), true
}

// Seq returns the sequence number of the latest stored frame, 0 if none.
func (b *ScanBuffer) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame.Seq
}
