package tmini

import (
	"math"
	"time"
)

// ScanAssembler accumulates decoded packets into complete rotation scans.
// A packet whose zero-position flag is set marks the start of a new
// rotation: the scan built so far is finalised and emitted, then the new
// packet's points open the next scan.
//
// Packets arriving before the first zero-position packet are discarded so
// the first emitted scan is a complete rotation rather than a start-up
// fragment.
//
// The assembler is owned by the acquisition goroutine and needs no locking;
// only the emit callback crosses into shared state.
type ScanAssembler struct {
	emit func(*LaserScan)

	points  []LaserPoint
	started bool

	// now is stubbed in tests to pin scan timestamps.
	now func() time.Time
}

// NewScanAssembler returns an assembler that calls emit once per completed
// scan. emit receives ownership of the scan; the assembler never touches it
// again.
func NewScanAssembler(emit func(*LaserScan)) *ScanAssembler {
	return &ScanAssembler{
		emit: emit,
		now:  time.Now,
	}
}

// Feed consumes one decoded packet, in arrival order.
func (a *ScanAssembler) Feed(h PacketHeader, samples []Sample) {
	if h.ZeroPosition() {
		if a.started && len(a.points) > 0 {
			a.emit(&LaserScan{
				Points:        a.points,
				ScanFrequency: h.Frequency(),
				Timestamp:     a.now(),
			})
			a.points = nil
		}
		a.started = true
	}

	if !a.started {
		// Warm-up: no scan boundary established yet.
		return
	}

	a.appendInterpolated(h, samples)
}

// appendInterpolated assigns each sample its interpolated angle and appends
// the resulting points to the scan in progress.
//
// Sample i of n spanning [a0, a1] gets angle a0 + i*(a1-a0)/n. When the
// packet crosses the 0/360 boundary (a1 < a0) the span is computed through
// 360 and the result normalised back into [0, 360).
func (a *ScanAssembler) appendInterpolated(h PacketHeader, samples []Sample) {
	n := len(samples)
	if n == 0 {
		return
	}

	a0 := h.StartAngle()
	a1 := h.EndAngle()
	span := a1 - a0
	if span < 0 {
		span += 360.0
	}
	step := span / float64(n)

	for i, s := range samples {
		angle := math.Mod(a0+float64(i)*step, 360.0)
		if angle < 0 {
			angle += 360.0
		}
		a.points = append(a.points, LaserPoint{
			Angle:     angle,
			Distance:  s.Distance,
			Intensity: s.Intensity,
		})
	}
}

// Pending returns the number of points accumulated for the scan in
// progress. Diagnostics only.
func (a *ScanAssembler) Pending() int {
	return len(a.points)
}

// Reset discards the scan in progress and the warm-up state. Used when a
// session ends so a reconnect starts clean.
func (a *ScanAssembler) Reset() {
	a.points = nil
	a.started = false
}
