package tmini

import (
	"testing"
)

// testSamples returns payload data whose encoded bytes cannot contain a
// stray sync marker, so mutation tests stay deterministic.
func testSamples() []Sample {
	return []Sample{
		{Distance: 1.000, Intensity: 10},
		{Distance: 2.500, Intensity: 20},
		{Distance: 0.750, Intensity: 30},
		{Distance: 3.250, Intensity: 40},
		{Distance: 0, Intensity: 0}, // no return
	}
}

func decodeAll(t *testing.T, cfg Config, stream []byte) []PacketHeader {
	t.Helper()
	fs := NewFrameSync(cfg)
	fs.Feed(stream)

	var headers []PacketHeader
	for {
		h, payload, ok := fs.Next()
		if !ok {
			break
		}
		if len(payload) != int(h.SampleCount)*cfg.BytesPerSample() {
			t.Fatalf("payload length %d does not match sample count %d", len(payload), h.SampleCount)
		}
		headers = append(headers, h)
	}
	return headers
}

func TestChecksumAcceptsOnlyUnmodifiedPacket(t *testing.T) {
	cfg := DefaultConfig()
	packet := EncodePacket(cfg, true, 6.0, 10.0, 30.0, testSamples())

	if got := decodeAll(t, cfg, packet); len(got) != 1 {
		t.Fatalf("unmodified packet: decoded %d packets, want 1", len(got))
	}

	// Any single-byte mutation must be rejected. Mutating the sync bytes
	// destroys the marker; mutating anything else fails the checksum.
	for i := range packet {
		mutated := make([]byte, len(packet))
		copy(mutated, packet)
		mutated[i] ^= 0x04

		if got := decodeAll(t, cfg, mutated); len(got) != 0 {
			t.Errorf("mutation at byte %d: decoded %d packets, want 0", i, len(got))
		}
	}
}

func TestFrameSyncPartialReads(t *testing.T) {
	cfg := DefaultConfig()
	packet := EncodePacket(cfg, false, 6.0, 45.0, 60.0, testSamples())

	fs := NewFrameSync(cfg)

	// Feed one byte at a time: Next must report "need more" until the
	// whole packet is buffered, without consuming the partial input.
	for i := 0; i < len(packet)-1; i++ {
		fs.Feed(packet[i : i+1])
		if _, _, ok := fs.Next(); ok {
			t.Fatalf("packet decoded after only %d of %d bytes", i+1, len(packet))
		}
	}

	fs.Feed(packet[len(packet)-1:])
	h, payload, ok := fs.Next()
	if !ok {
		t.Fatal("complete packet not decoded")
	}
	if h.SampleCount != uint8(len(testSamples())) {
		t.Errorf("sample count = %d, want %d", h.SampleCount, len(testSamples()))
	}
	if len(payload) != len(testSamples())*3 {
		t.Errorf("payload length = %d, want %d", len(payload), len(testSamples())*3)
	}
}

func TestFrameSyncResyncAfterCorruption(t *testing.T) {
	cfg := DefaultConfig()
	good1 := EncodePacket(cfg, true, 6.0, 0.0, 20.0, testSamples())
	bad := EncodePacket(cfg, false, 6.0, 20.0, 40.0, testSamples())
	bad[2] ^= 0xFF // corrupt the byte immediately after the sync marker
	good2 := EncodePacket(cfg, false, 6.0, 40.0, 60.0, testSamples())

	stream := append(append(append([]byte{}, good1...), bad...), good2...)
	headers := decodeAll(t, cfg, stream)

	if len(headers) != 2 {
		t.Fatalf("decoded %d packets, want 2 (corrupted packet dropped)", len(headers))
	}
	if !headers[0].ZeroPosition() || headers[1].ZeroPosition() {
		t.Error("surviving packets decoded out of order")
	}
	if headers[1].StartAngle() != 40.0 {
		t.Errorf("second surviving packet start angle = %v, want 40", headers[1].StartAngle())
	}

	fs := NewFrameSync(cfg)
	fs.Feed(stream)
	for {
		if _, _, ok := fs.Next(); !ok {
			break
		}
	}
	if got := fs.Stats().ChecksumRejects; got < 1 {
		t.Errorf("checksum rejects = %d, want >= 1", got)
	}
}

func TestFrameSyncSkipsLeadingNoise(t *testing.T) {
	cfg := DefaultConfig()
	packet := EncodePacket(cfg, true, 6.0, 0.0, 20.0, testSamples())
	stream := append([]byte{0x00, 0x13, 0x37, 0xAA, 0x12}, packet...)

	headers := decodeAll(t, cfg, stream)
	if len(headers) != 1 {
		t.Fatalf("decoded %d packets, want 1", len(headers))
	}

	fs := NewFrameSync(cfg)
	fs.Feed(stream)
	fs.Next()
	if got := fs.Stats().BytesDiscarded; got != 5 {
		t.Errorf("bytes discarded = %d, want 5", got)
	}
}

func TestFrameSyncRejectsBadSampleCount(t *testing.T) {
	cfg := DefaultConfig()
	packet := EncodePacket(cfg, true, 6.0, 0.0, 20.0, testSamples())

	bad := make([]byte, len(packet))
	copy(bad, packet)
	bad[3] = 0 // LSN below the valid range

	stream := append(bad, packet...)
	headers := decodeAll(t, cfg, stream)
	if len(headers) != 1 {
		t.Fatalf("decoded %d packets, want 1 (bad LSN dropped)", len(headers))
	}

	fs := NewFrameSync(cfg)
	fs.Feed(stream)
	for {
		if _, _, ok := fs.Next(); !ok {
			break
		}
	}
	if got := fs.Stats().BadSampleCounts; got != 1 {
		t.Errorf("bad sample counts = %d, want 1", got)
	}
}

func TestHeaderFieldDecoding(t *testing.T) {
	cfg := DefaultConfig()
	packet := EncodePacket(cfg, true, 6.2, 358.0, 2.0, testSamples()[:4])

	headers := decodeAll(t, cfg, packet)
	if len(headers) != 1 {
		t.Fatalf("decoded %d packets, want 1", len(headers))
	}
	h := headers[0]

	if !h.ZeroPosition() {
		t.Error("zero-position flag lost")
	}
	if h.Frequency() != 6.2 {
		t.Errorf("frequency = %v, want 6.2", h.Frequency())
	}
	if h.StartAngle() != 358.0 {
		t.Errorf("start angle = %v, want 358", h.StartAngle())
	}
	if h.EndAngle() != 2.0 {
		t.Errorf("end angle = %v, want 2", h.EndAngle())
	}
}

// Sample bytes shared by the intensity mode tests: intensity byte 0x64,
// distance word 0x6FE5. The low two distance bits are intensity bits 8-9.
var modeSampleBytes = []byte{0x64, 0xE5, 0x6F}

func TestDecodeIntensity8Bit(t *testing.T) {
	cfg := Config{HasIntensity: true, IntensityBits: 8}
	h := PacketHeader{SampleCount: 1}

	samples := decodeSamples(cfg, h, modeSampleBytes)
	if len(samples) != 1 {
		t.Fatalf("decoded %d samples, want 1", len(samples))
	}
	if samples[0].Intensity != 0x64 {
		t.Errorf("intensity = %d, want %d", samples[0].Intensity, 0x64)
	}
	// 0x6FE5 & 0xFFFC = 28644 raw units = 7.161 m
	if samples[0].Distance != 7.161 {
		t.Errorf("distance = %v, want 7.161", samples[0].Distance)
	}
}

func TestDecodeIntensity10Bit(t *testing.T) {
	cfg := Config{HasIntensity: true, IntensityBits: 10}
	h := PacketHeader{SampleCount: 1}

	samples := decodeSamples(cfg, h, modeSampleBytes)
	if len(samples) != 1 {
		t.Fatalf("decoded %d samples, want 1", len(samples))
	}
	// Same bytes, wider range: (0xE5&0x03)<<8 | 0x64 = 356.
	if samples[0].Intensity != 356 {
		t.Errorf("intensity = %d, want 356", samples[0].Intensity)
	}
	if samples[0].Distance != 7.161 {
		t.Errorf("distance = %v, want 7.161", samples[0].Distance)
	}
}

func TestDecodeWithoutIntensity(t *testing.T) {
	cfg := Config{HasIntensity: false, IntensityBits: 8}
	h := PacketHeader{SampleCount: 2}
	payload := []byte{0xA0, 0x0F, 0x00, 0x00} // 4000 raw = 1 m, then no return

	samples := decodeSamples(cfg, h, payload)
	if len(samples) != 2 {
		t.Fatalf("decoded %d samples, want 2", len(samples))
	}
	if samples[0].Distance != 1.0 {
		t.Errorf("distance = %v, want 1.0", samples[0].Distance)
	}
	if samples[0].Intensity != 0 {
		t.Errorf("intensity = %d, want 0 in distance-only mode", samples[0].Intensity)
	}
	if samples[1].Distance != 0 {
		t.Errorf("no-return distance = %v, want 0", samples[1].Distance)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{HasIntensity: true, IntensityBits: 9}).Validate(); err == nil {
		t.Error("expected error for 9-bit intensity")
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
