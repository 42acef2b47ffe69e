// Package tmini implements the YDLidar T-mini serial protocol: byte-stream
// synchronisation, packet validation and decode, scan assembly, and a
// thread-safe hand-off of completed scans to consumers.
//
// Data flows one way: serial bytes -> frames -> decoded samples -> assembled
// scans -> scan buffer -> consumer. The Driver facade owns the serial port
// and the acquisition goroutine that drives the pipeline.
package tmini

import (
	"math"
	"time"
)

// LaserPoint is a single lidar measurement. A point is immutable once its
// containing scan has been handed to a consumer.
type LaserPoint struct {
	// Angle in degrees, normalised to [0, 360).
	Angle float64
	// Distance in metres. Zero means no laser return.
	Distance float64
	// Intensity of the return: 0-255 in 8-bit mode, 0-1023 in 10-bit mode.
	Intensity uint16
}

// Cartesian converts the point's polar coordinates to x/y metres.
// X points along 0 degrees, Y along 90 degrees.
func (p LaserPoint) Cartesian() (x, y float64) {
	rad := p.Angle * math.Pi / 180.0
	return p.Distance * math.Cos(rad), p.Distance * math.Sin(rad)
}

// Valid reports whether the point carries a real measurement. The sensor
// reports a distance of zero when it got no return at an angle.
func (p LaserPoint) Valid() bool {
	return p.Distance > 0
}

// LaserScan is one full rotation's worth of points, bounded by two
// zero-position packets. Points are in angular acquisition order, which is
// not necessarily monotonic in angle across the 0/360 boundary. A scan is
// never mutated after it has been handed to a consumer.
type LaserScan struct {
	// Points in acquisition order.
	Points []LaserPoint
	// ScanFrequency is the rotation rate in Hz reported by the sensor.
	ScanFrequency float64
	// Timestamp is when the scan boundary was detected.
	Timestamp time.Time
}

// ValidPoints returns only the points with a real return.
func (s *LaserScan) ValidPoints() []LaserPoint {
	out := make([]LaserPoint, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Valid() {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of points in the scan.
func (s *LaserScan) Len() int {
	return len(s.Points)
}
