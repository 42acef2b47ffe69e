package tmini

import (
	"sync/atomic"
	"time"
)

// DefaultScanBufferSize is the default hand-off capacity. The buffer holds
// the most recent scans, not history; a few is plenty at 6-10 rotations per
// second.
const DefaultScanBufferSize = 4

// ScanBuffer is the bounded hand-off channel between the acquisition
// goroutine and consumers. Push never blocks the producer: when the buffer
// is full the oldest queued scan is evicted to admit the new one, so a slow
// consumer can never stall acquisition.
//
// All methods are safe for concurrent use by any number of consumers
// alongside the single producer.
type ScanBuffer struct {
	ch      chan *LaserScan
	pushed  atomic.Int64
	dropped atomic.Int64
}

// NewScanBuffer creates a buffer holding at most capacity scans. A
// capacity below one falls back to DefaultScanBufferSize.
func NewScanBuffer(capacity int) *ScanBuffer {
	if capacity < 1 {
		capacity = DefaultScanBufferSize
	}
	return &ScanBuffer{ch: make(chan *LaserScan, capacity)}
}

// Push queues a completed scan, evicting the oldest scan if the buffer is
// full. It is called only from the acquisition goroutine; the single
// producer is what makes evict-then-send safe.
func (b *ScanBuffer) Push(scan *LaserScan) {
	for {
		select {
		case b.ch <- scan:
			b.pushed.Add(1)
			return
		default:
		}
		// Full: evict the oldest and retry. A concurrent Pop may win the
		// race for the evicted scan, which is fine — either way a slot
		// frees up and only the producer sends.
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks up to timeout for the oldest available scan. It returns nil
// when the timeout elapses with nothing queued; that is a normal outcome,
// not an error. A zero or negative timeout polls without blocking.
func (b *ScanBuffer) Pop(timeout time.Duration) *LaserScan {
	if timeout <= 0 {
		return b.TryPop()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case scan := <-b.ch:
		return scan
	case <-timer.C:
		return nil
	}
}

// TryPop returns the oldest queued scan without blocking, or nil.
func (b *ScanBuffer) TryPop() *LaserScan {
	select {
	case scan := <-b.ch:
		return scan
	default:
		return nil
	}
}

// Len returns the number of scans currently queued.
func (b *ScanBuffer) Len() int {
	return len(b.ch)
}

// Count returns the total number of scans ever pushed, including those
// later evicted. It reflects scans produced, not scans queued.
func (b *ScanBuffer) Count() int64 {
	return b.pushed.Load()
}

// Dropped returns the number of scans evicted by the drop-oldest policy.
func (b *ScanBuffer) Dropped() int64 {
	return b.dropped.Load()
}
