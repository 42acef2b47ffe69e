package tmini

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/tmini/internal/monitoring"
)

// T-mini wire protocol constants. Every packet is a fixed 10-byte header
// followed by LSN samples of 2 or 3 bytes depending on intensity mode.
//
// Header layout (all multi-byte fields little-endian):
//
//	PH  sync marker, 2 bytes: 0xAA 0x55 on the wire (word 0x55AA)
//	CT  packet type, 1 byte: bit0 = zero-position flag, bits1-7 = freq x10
//	LSN sample count, 1 byte: 1-80
//	FSA start angle, 2 bytes: degrees x64 fixed point
//	LSA end angle, 2 bytes: degrees x64 fixed point
//	CS  checksum, 2 bytes: XOR over 16-bit words of the packet minus CS
const (
	syncByte0 = 0xAA
	syncByte1 = 0x55

	// SyncWord is the little-endian value of the two sync bytes.
	SyncWord uint16 = 0x55AA

	// HeaderSize is the fixed packet header length in bytes.
	HeaderSize = 10

	// MaxSamplesPerPacket bounds the LSN header field. Headers outside
	// [1, MaxSamplesPerPacket] are rejected at the sync layer.
	MaxSamplesPerPacket = 80

	// AngleScale converts fixed-point wire angles to degrees.
	AngleScale = 64.0

	// DistanceScale converts raw distance units to metres (0.25 mm/LSB).
	DistanceScale = 4000.0

	zeroPositionFlag = 0x01

	// In intensity mode the low two bits of the distance word carry
	// intensity bits 8-9 and are not part of the distance.
	distanceMask      = 0xFFFC
	intensityHighMask = 0x03
)

// Config selects the payload layout the sensor was configured for.
type Config struct {
	// HasIntensity selects 3-byte samples (intensity + distance) over
	// 2-byte distance-only samples.
	HasIntensity bool
	// IntensityBits is 8 or 10. In 10-bit mode the two spare bits of the
	// distance word extend the intensity byte.
	IntensityBits int
}

// DefaultConfig returns the sensor's factory configuration: 8-bit
// intensity enabled.
func DefaultConfig() Config {
	return Config{HasIntensity: true, IntensityBits: 8}
}

// Validate checks the configuration for values the protocol defines.
func (c Config) Validate() error {
	if c.IntensityBits != 8 && c.IntensityBits != 10 {
		return fmt.Errorf("intensity bits must be 8 or 10, got %d", c.IntensityBits)
	}
	return nil
}

// BytesPerSample returns the payload stride for this configuration.
func (c Config) BytesPerSample() int {
	if c.HasIntensity {
		return 3
	}
	return 2
}

// PacketHeader is the decoded 10-byte header. It exists only while the
// packet it describes is being decoded and is never retained.
type PacketHeader struct {
	PacketType    uint8
	SampleCount   uint8
	StartAngleRaw uint16
	EndAngleRaw   uint16
	Checksum      uint16
}

// ZeroPosition reports whether this packet begins a new rotation.
func (h PacketHeader) ZeroPosition() bool {
	return h.PacketType&zeroPositionFlag != 0
}

// Frequency returns the scan frequency in Hz encoded in the packet type.
func (h PacketHeader) Frequency() float64 {
	return float64(h.PacketType>>1) / 10.0
}

// StartAngle returns the first sample angle in degrees.
func (h PacketHeader) StartAngle() float64 {
	return float64(h.StartAngleRaw) / AngleScale
}

// EndAngle returns the last sample angle in degrees.
func (h PacketHeader) EndAngle() float64 {
	return float64(h.EndAngleRaw) / AngleScale
}

// parseHeader decodes a header from b, which must hold at least HeaderSize
// bytes beginning with the sync marker.
func parseHeader(b []byte) PacketHeader {
	return PacketHeader{
		PacketType:    b[2],
		SampleCount:   b[3],
		StartAngleRaw: binary.LittleEndian.Uint16(b[4:6]),
		EndAngleRaw:   binary.LittleEndian.Uint16(b[6:8]),
		Checksum:      binary.LittleEndian.Uint16(b[8:10]),
	}
}

// checksum computes the packet check code: a 16-bit XOR seeded with the
// sync word, covering FSA, the payload, the CT|LSN word and LSA. The CS
// field itself does not participate. In intensity mode each sample
// contributes its intensity byte (widened to a word) and its distance word;
// without intensity the payload is XORed as plain little-endian words.
// This accumulation order matches the vendor SDK.
func checksum(cfg Config, header, payload []byte) uint16 {
	cs := SyncWord
	cs ^= binary.LittleEndian.Uint16(header[4:6]) // FSA

	if cfg.HasIntensity {
		for i := 0; i+3 <= len(payload); i += 3 {
			cs ^= uint16(payload[i])
			cs ^= binary.LittleEndian.Uint16(payload[i+1 : i+3])
		}
	} else {
		for i := 0; i+2 <= len(payload); i += 2 {
			cs ^= binary.LittleEndian.Uint16(payload[i : i+2])
		}
	}

	cs ^= binary.LittleEndian.Uint16(header[2:4]) // CT | LSN
	cs ^= binary.LittleEndian.Uint16(header[6:8]) // LSA
	return cs
}

// SyncStats counts transient stream faults handled by resynchronisation.
// They never surface as errors; the counters exist for diagnostics.
type SyncStats struct {
	BytesDiscarded  uint64 // noise bytes skipped before a sync marker
	ChecksumRejects uint64 // headers dropped for checksum mismatch
	BadSampleCounts uint64 // headers dropped for LSN outside [1,80]
	Packets         uint64 // packets emitted
}

// FrameSync locates and validates packets in an accumulating byte stream.
// It tolerates partial reads (Next reports false until a whole packet is
// buffered) and self-heals after corruption: a header that fails validation
// costs only its two sync bytes, so a valid frame following a corrupted one
// is still found.
//
// FrameSync is not safe for concurrent use; it is owned by the acquisition
// goroutine.
type FrameSync struct {
	cfg   Config
	buf   []byte
	stats SyncStats
}

// NewFrameSync returns a FrameSync for the given payload configuration.
func NewFrameSync(cfg Config) *FrameSync {
	return &FrameSync{cfg: cfg}
}

// Feed appends freshly read bytes to the internal buffer.
func (fs *FrameSync) Feed(p []byte) {
	fs.buf = append(fs.buf, p...)
}

// Buffered returns the number of bytes awaiting synchronisation.
func (fs *FrameSync) Buffered() int {
	return len(fs.buf)
}

// Stats returns a copy of the resynchronisation counters.
func (fs *FrameSync) Stats() SyncStats {
	return fs.stats
}

// Reset discards all buffered bytes. Used when a session ends.
func (fs *FrameSync) Reset() {
	fs.buf = fs.buf[:0]
}

var syncMarker = []byte{syncByte0, syncByte1}

// Next extracts the next validated packet from the buffer. It returns the
// decoded header, the raw payload, and true when a full packet passed
// validation. It returns false when more bytes are needed; no input is
// consumed in that case beyond noise that can never start a packet.
func (fs *FrameSync) Next() (PacketHeader, []byte, bool) {
	for {
		i := bytes.Index(fs.buf, syncMarker)
		if i < 0 {
			// No marker. Everything but a trailing 0xAA (which may be
			// the first half of a split marker) is noise.
			keep := 0
			if n := len(fs.buf); n > 0 && fs.buf[n-1] == syncByte0 {
				keep = 1
			}
			if drop := len(fs.buf) - keep; drop > 0 {
				fs.stats.BytesDiscarded += uint64(drop)
				fs.buf = fs.buf[:copy(fs.buf, fs.buf[drop:])]
			}
			return PacketHeader{}, nil, false
		}
		if i > 0 {
			fs.stats.BytesDiscarded += uint64(i)
			fs.buf = fs.buf[:copy(fs.buf, fs.buf[i:])]
		}

		if len(fs.buf) < HeaderSize {
			return PacketHeader{}, nil, false
		}

		h := parseHeader(fs.buf)
		if h.SampleCount < 1 || h.SampleCount > MaxSamplesPerPacket {
			monitoring.Debugf("tmini: rejecting header with sample count %d", h.SampleCount)
			fs.stats.BadSampleCounts++
			fs.dropSyncMarker()
			continue
		}

		total := HeaderSize + int(h.SampleCount)*fs.cfg.BytesPerSample()
		if len(fs.buf) < total {
			// Incomplete packet: retain the bytes and wait for more input.
			return PacketHeader{}, nil, false
		}

		payload := fs.buf[HeaderSize:total]
		if checksum(fs.cfg, fs.buf[:HeaderSize], payload) != h.Checksum {
			monitoring.Debugf("tmini: checksum mismatch, resyncing (lsn=%d)", h.SampleCount)
			fs.stats.ChecksumRejects++
			fs.dropSyncMarker()
			continue
		}

		out := make([]byte, len(payload))
		copy(out, payload)
		fs.buf = fs.buf[:copy(fs.buf, fs.buf[total:])]
		fs.stats.Packets++
		return h, out, true
	}
}

// dropSyncMarker discards only the two marker bytes so the search resumes
// at the next marker occurrence. Discarding more would risk losing a valid
// frame that follows the corrupted one.
func (fs *FrameSync) dropSyncMarker() {
	fs.buf = fs.buf[:copy(fs.buf, fs.buf[2:])]
}

// Sample is one decoded measurement, before angle interpolation.
type Sample struct {
	// Distance in metres. Zero means no return.
	Distance float64
	// Intensity per the configured bit depth.
	Intensity uint16
}

// decodeSamples decodes a validated packet payload into samples. The
// payload length is guaranteed by FrameSync to match the header's sample
// count, so the loop is bounds-safe.
func decodeSamples(cfg Config, h PacketHeader, payload []byte) []Sample {
	samples := make([]Sample, 0, h.SampleCount)

	if !cfg.HasIntensity {
		for i := 0; i < int(h.SampleCount); i++ {
			raw := binary.LittleEndian.Uint16(payload[i*2 : i*2+2])
			samples = append(samples, Sample{
				Distance: float64(raw) / DistanceScale,
			})
		}
		return samples
	}

	for i := 0; i < int(h.SampleCount); i++ {
		s0 := payload[i*3]
		word := binary.LittleEndian.Uint16(payload[i*3+1 : i*3+3])

		intensity := uint16(s0)
		if cfg.IntensityBits == 10 {
			intensity |= (word & intensityHighMask) << 8
		}

		samples = append(samples, Sample{
			Distance:  float64(word&distanceMask) / DistanceScale,
			Intensity: intensity,
		})
	}
	return samples
}

// EncodePacket builds a wire-format packet for the given samples. The
// simulator and the protocol tests use it; the driver itself never writes
// packets. Angles are rounded to the 1/64-degree wire resolution and
// distances to the 0.25 mm raw unit (1 mm in intensity mode, where the low
// two distance bits carry intensity).
func EncodePacket(cfg Config, zeroPosition bool, freqHz float64, startDeg, endDeg float64, samples []Sample) []byte {
	if len(samples) < 1 || len(samples) > MaxSamplesPerPacket {
		panic(fmt.Sprintf("tmini: encode: sample count %d outside [1,%d]", len(samples), MaxSamplesPerPacket))
	}

	ct := uint8(math.Round(freqHz*10)) << 1
	if zeroPosition {
		ct |= zeroPositionFlag
	}

	header := make([]byte, HeaderSize)
	header[0] = syncByte0
	header[1] = syncByte1
	header[2] = ct
	header[3] = uint8(len(samples))
	binary.LittleEndian.PutUint16(header[4:6], uint16(math.Round(startDeg*AngleScale)))
	binary.LittleEndian.PutUint16(header[6:8], uint16(math.Round(endDeg*AngleScale)))

	payload := make([]byte, len(samples)*cfg.BytesPerSample())
	for i, s := range samples {
		raw := uint16(math.Round(s.Distance * DistanceScale))
		if cfg.HasIntensity {
			word := raw&distanceMask | (s.Intensity>>8)&intensityHighMask
			payload[i*3] = byte(s.Intensity)
			binary.LittleEndian.PutUint16(payload[i*3+1:i*3+3], word)
		} else {
			binary.LittleEndian.PutUint16(payload[i*2:i*2+2], raw)
		}
	}

	binary.LittleEndian.PutUint16(header[8:10], checksum(cfg, header, payload))
	return append(header, payload...)
}
