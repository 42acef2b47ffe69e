package tmini

import (
	"math"
	"time"

	"github.com/banshee-data/tmini/internal/serialport"
)

// Simulator produces a synthetic T-mini byte stream through the serial
// port interface, letting the full driver pipeline run without hardware.
// It generates rotations of a simple rectangular room profile, encodes them
// with the real wire format, and paces the bytes at the configured scan
// frequency.
type Simulator struct {
	cfg       Config
	freqHz    float64
	samples   int // samples per packet
	noReturns bool

	port *serialport.TestablePort
	stop chan struct{}
}

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	// Protocol selects the payload layout; defaults to DefaultConfig.
	Protocol Config
	// FrequencyHz is the rotation rate; defaults to 6 Hz.
	FrequencyHz float64
	// SamplesPerPacket defaults to 40.
	SamplesPerPacket int
	// DropReturns punches no-return gaps into the profile when true.
	DropReturns bool
}

// NewSimulator creates a simulator. Its Port is ready to hand to a
// MockFactory before Start is called.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Protocol == (Config{}) {
		cfg.Protocol = DefaultConfig()
	}
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = 6
	}
	if cfg.SamplesPerPacket == 0 {
		cfg.SamplesPerPacket = 40
	}
	return &Simulator{
		cfg:       cfg.Protocol,
		freqHz:    cfg.FrequencyHz,
		samples:   cfg.SamplesPerPacket,
		noReturns: cfg.DropReturns,
		port:      serialport.NewTestablePort(),
		stop:      make(chan struct{}),
	}
}

// Port returns the serial port the simulator writes into.
func (s *Simulator) Port() *serialport.TestablePort {
	return s.port
}

// Factory returns a port factory that opens the simulated port, for wiring
// straight into a DriverConfig.
func (s *Simulator) Factory() serialport.Factory {
	return serialport.NewMockFactory(s.port)
}

// Start begins streaming rotations until Stop is called. One rotation's
// packets are written per rotation period.
func (s *Simulator) Start() {
	go func() {
		interval := time.Duration(float64(time.Second) / s.freqHz)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.port.AddReadData(s.Rotation())
			}
		}
	}()
}

// Stop halts the stream. The port stays open so buffered bytes drain.
func (s *Simulator) Stop() {
	close(s.stop)
}

// Rotation encodes one full synthetic rotation as wire bytes. The first
// packet carries the zero-position flag; emitting the flag at the same
// angle each rotation makes the assembled scans comparable.
func (s *Simulator) Rotation() []byte {
	packets := int(math.Ceil(360.0 / (float64(s.samples) * s.angleStep())))
	var out []byte
	angle := 0.0
	for p := 0; p < packets; p++ {
		start := angle
		end := math.Mod(start+float64(s.samples)*s.angleStep(), 360.0)

		samples := make([]Sample, s.samples)
		for i := range samples {
			a := math.Mod(start+float64(i)*s.angleStep(), 360.0)
			samples[i] = s.sampleAt(a)
		}

		out = append(out, EncodePacket(s.cfg, p == 0, s.freqHz, start, end, samples)...)
		angle = end
	}
	return out
}

// angleStep is the angular spacing between consecutive samples, matching
// the T-mini's nominal ~500 samples per rotation.
func (s *Simulator) angleStep() float64 {
	return 360.0 / 500.0
}

// sampleAt returns the synthetic measurement for an angle: the range to
// the wall of a 4x3 m rectangular room seen from its centre, quantised to
// 1 mm so decode round-trips exactly.
func (s *Simulator) sampleAt(angleDeg float64) Sample {
	if s.noReturns && angleDeg >= 80 && angleDeg < 100 {
		return Sample{} // simulated absorption gap
	}

	rad := angleDeg * math.Pi / 180.0
	cos, sin := math.Cos(rad), math.Sin(rad)

	// Distance to the boundary of a rectangle half-width 2 m, half-height
	// 1.5 m, from the centre.
	d := math.MaxFloat64
	if cos != 0 {
		d = math.Min(d, 2.0/math.Abs(cos))
	}
	if sin != 0 {
		d = math.Min(d, 1.5/math.Abs(sin))
	}

	// Quantise to 1 mm, the wire resolution in intensity mode.
	d = math.Round(d*1000) / 1000

	intensity := uint16(200 - math.Min(150, d*40))
	return Sample{Distance: d, Intensity: intensity}
}
