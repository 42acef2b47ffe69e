package tmini

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func collectScans() (*ScanAssembler, *[]*LaserScan) {
	var scans []*LaserScan
	asm := NewScanAssembler(func(s *LaserScan) {
		scans = append(scans, s)
	})
	return asm, &scans
}

func zeroHeader(n int, startDeg, endDeg float64) PacketHeader {
	return PacketHeader{
		PacketType:    0x79, // 6.0 Hz, zero position
		SampleCount:   uint8(n),
		StartAngleRaw: uint16(math.Round(startDeg * AngleScale)),
		EndAngleRaw:   uint16(math.Round(endDeg * AngleScale)),
	}
}

func flatSamples(n int) []Sample {
	s := make([]Sample, n)
	for i := range s {
		s[i] = Sample{Distance: 1.0, Intensity: 50}
	}
	return s
}

func scanAngles(s *LaserScan) []float64 {
	angles := make([]float64, len(s.Points))
	for i, p := range s.Points {
		angles[i] = p.Angle
	}
	return angles
}

func TestInterpolationEvenSpacing(t *testing.T) {
	asm, scans := collectScans()

	asm.Feed(zeroHeader(5, 0, 5), flatSamples(5))
	asm.Feed(zeroHeader(1, 5, 6), flatSamples(1)) // flush

	if len(*scans) != 1 {
		t.Fatalf("emitted %d scans, want 1", len(*scans))
	}
	want := []float64{0, 1, 2, 3, 4}
	if diff := cmp.Diff(want, scanAngles((*scans)[0])); diff != "" {
		t.Errorf("angles mismatch (-want +got):\n%s", diff)
	}
}

func TestInterpolationWraparound(t *testing.T) {
	asm, scans := collectScans()

	// The packet crosses the zero reference: 358 -> 2 spans 4 degrees
	// through 360, and interpolated angles normalise back into [0, 360).
	asm.Feed(zeroHeader(4, 358, 2), flatSamples(4))
	asm.Feed(zeroHeader(1, 2, 3), flatSamples(1)) // flush

	if len(*scans) != 1 {
		t.Fatalf("emitted %d scans, want 1", len(*scans))
	}
	want := []float64{358, 359, 0, 1}
	if diff := cmp.Diff(want, scanAngles((*scans)[0])); diff != "" {
		t.Errorf("angles mismatch (-want +got):\n%s", diff)
	}
}

func TestWarmupPacketsDiscarded(t *testing.T) {
	asm, scans := collectScans()

	// Mid-rotation packets before the first zero-position marker must not
	// contribute points to any scan.
	warmup := zeroHeader(10, 100, 120)
	warmup.PacketType &^= zeroPositionFlag
	asm.Feed(warmup, flatSamples(10))
	if asm.Pending() != 0 {
		t.Fatalf("pending = %d after warm-up packet, want 0", asm.Pending())
	}

	asm.Feed(zeroHeader(5, 0, 5), flatSamples(5))
	asm.Feed(zeroHeader(1, 5, 6), flatSamples(1))

	if len(*scans) != 1 {
		t.Fatalf("emitted %d scans, want 1", len(*scans))
	}
	if got := len((*scans)[0].Points); got != 5 {
		t.Errorf("first scan has %d points, want 5 (warm-up leaked in)", got)
	}
}

func TestScanMetadataFromClosingPacket(t *testing.T) {
	asm, scans := collectScans()
	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	asm.now = func() time.Time { return fixed }

	asm.Feed(zeroHeader(5, 0, 5), flatSamples(5))

	closing := zeroHeader(1, 5, 6)
	closing.PacketType = 0x01 | uint8(6.4*10)<<1 // 6.4 Hz on the boundary packet
	asm.Feed(closing, flatSamples(1))

	if len(*scans) != 1 {
		t.Fatalf("emitted %d scans, want 1", len(*scans))
	}
	s := (*scans)[0]
	if s.ScanFrequency != 6.4 {
		t.Errorf("scan frequency = %v, want 6.4 (from the closing packet)", s.ScanFrequency)
	}
	if !s.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", s.Timestamp, fixed)
	}
}

func TestEmptyScanNotEmitted(t *testing.T) {
	asm, scans := collectScans()

	// Two consecutive zero-position boundaries with no points in between
	// must not emit an empty scan.
	asm.Feed(zeroHeader(5, 0, 5), nil)
	asm.Feed(zeroHeader(5, 0, 5), flatSamples(5))
	asm.Feed(zeroHeader(1, 5, 6), flatSamples(1))

	if len(*scans) != 1 {
		t.Fatalf("emitted %d scans, want 1", len(*scans))
	}
}

func TestAssemblerReset(t *testing.T) {
	asm, scans := collectScans()

	asm.Feed(zeroHeader(5, 0, 5), flatSamples(5))
	asm.Reset()

	// After a reset the assembler is back in warm-up: points only start
	// accumulating at the next zero-position packet.
	mid := zeroHeader(5, 10, 15)
	mid.PacketType &^= zeroPositionFlag
	asm.Feed(mid, flatSamples(5))
	if asm.Pending() != 0 {
		t.Fatalf("pending = %d after reset, want 0", asm.Pending())
	}
	if len(*scans) != 0 {
		t.Errorf("emitted %d scans across reset, want 0", len(*scans))
	}
}

// TestPipelineRoundTrip drives synthetic rotations through the whole decode
// path: encode -> frame sync -> sample decode -> scan assembly. Distances
// and intensities survive exactly; angles within the 1/64-degree wire
// resolution.
func TestPipelineRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	const packetsPerRotation = 5
	const samplesPerPacket = 8
	const stepDeg = 360.0 / (packetsPerRotation * samplesPerPacket)

	sampleFor := func(i int) Sample {
		return Sample{
			Distance:  0.5 + float64(i%20)*0.125, // multiples of the raw unit
			Intensity: uint16(10 + i%200),
		}
	}

	rotation := func() []byte {
		var out []byte
		for p := 0; p < packetsPerRotation; p++ {
			start := float64(p*samplesPerPacket) * stepDeg
			end := math.Mod(start+samplesPerPacket*stepDeg, 360.0)
			samples := make([]Sample, samplesPerPacket)
			for i := range samples {
				samples[i] = sampleFor(p*samplesPerPacket + i)
			}
			out = append(out, EncodePacket(cfg, p == 0, 6.0, start, end, samples)...)
		}
		return out
	}

	asm, scans := collectScans()
	fs := NewFrameSync(cfg)

	// Two rotations: the first fills a scan, the second's zero-position
	// packet flushes it.
	fs.Feed(rotation())
	fs.Feed(rotation())
	for {
		h, payload, ok := fs.Next()
		if !ok {
			break
		}
		asm.Feed(h, decodeSamples(cfg, h, payload))
	}

	if len(*scans) != 1 {
		t.Fatalf("emitted %d scans, want 1", len(*scans))
	}
	scan := (*scans)[0]
	if scan.Len() != packetsPerRotation*samplesPerPacket {
		t.Fatalf("scan has %d points, want %d", scan.Len(), packetsPerRotation*samplesPerPacket)
	}

	want := make([]LaserPoint, scan.Len())
	for i := range want {
		s := sampleFor(i)
		want[i] = LaserPoint{
			Angle:     float64(i) * stepDeg,
			Distance:  s.Distance,
			Intensity: s.Intensity,
		}
	}

	approx := cmpopts.EquateApprox(0, 1.0/AngleScale)
	if diff := cmp.Diff(want, scan.Points, approx); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}
