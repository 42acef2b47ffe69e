package tmini

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AcquisitionStats tracks acquisition throughput and the parse-layer fault
// counters. The acquisition goroutine writes, any goroutine may read.
type AcquisitionStats struct {
	mu        sync.Mutex
	bytes     int64
	packets   int64
	scans     int64
	points    int64
	sync      SyncStats
	lastReset time.Time
}

// StatsSnapshot is a point-in-time copy of the acquisition counters.
type StatsSnapshot struct {
	Bytes    int64
	Packets  int64
	Scans    int64
	Points   int64
	Sync     SyncStats
	Duration time.Duration
}

// NewAcquisitionStats returns zeroed counters.
func NewAcquisitionStats() *AcquisitionStats {
	return &AcquisitionStats{lastReset: time.Now()}
}

func (s *AcquisitionStats) AddBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes += int64(n)
}

func (s *AcquisitionStats) AddPacket() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
}

func (s *AcquisitionStats) AddScan(points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	s.points += int64(points)
}

// SetSync stores the latest resynchronisation counters from the frame
// synchroniser, which is owned by the acquisition goroutine.
func (s *AcquisitionStats) SetSync(sync SyncStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sync = sync
}

// Snapshot returns a copy of the counters without resetting them.
func (s *AcquisitionStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Bytes:    s.bytes,
		Packets:  s.packets,
		Scans:    s.scans,
		Points:   s.points,
		Sync:     s.sync,
		Duration: time.Since(s.lastReset),
	}
}

// GetAndReset returns the counters accumulated since the last reset and
// zeroes them. Used for periodic rate logging.
func (s *AcquisitionStats) GetAndReset() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	snap := StatsSnapshot{
		Bytes:    s.bytes,
		Packets:  s.packets,
		Scans:    s.scans,
		Points:   s.points,
		Sync:     s.sync,
		Duration: now.Sub(s.lastReset),
	}
	s.bytes, s.packets, s.scans, s.points = 0, 0, 0, 0
	s.lastReset = now
	return snap
}

// RangeStats summarises the valid returns of a single scan.
type RangeStats struct {
	// Valid is the number of points with a real return.
	Valid int
	// Total is the number of points in the scan.
	Total int
	// Min, Max and Mean are in metres over the valid points.
	Min, Max, Mean float64
}

// ScanRangeStats computes range statistics over a scan's valid points.
// A scan with no valid returns yields zeroed Min/Max/Mean.
func ScanRangeStats(scan *LaserScan) RangeStats {
	rs := RangeStats{Total: len(scan.Points)}

	ranges := make([]float64, 0, len(scan.Points))
	for _, p := range scan.Points {
		if p.Valid() {
			ranges = append(ranges, p.Distance)
		}
	}
	rs.Valid = len(ranges)
	if rs.Valid == 0 {
		return rs
	}

	rs.Min = floats.Min(ranges)
	rs.Max = floats.Max(ranges)
	rs.Mean = stat.Mean(ranges, nil)
	return rs
}
