package tmini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/tmini/internal/monitoring"
	"github.com/banshee-data/tmini/internal/serialport"
)

// Driver errors. Parse-layer faults never appear here: only connection
// lifecycle problems cross the API boundary.
var (
	// ErrNotConnected is returned by operations requiring an open port.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect on a connected driver.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrConnectionLost wraps a read failure that ended a scanning
	// session. It is surfaced on the next API call after the failure.
	ErrConnectionLost = errors.New("connection lost")

	// ErrStopTimeout reports that the acquisition goroutine failed to
	// exit within its join bound.
	ErrStopTimeout = errors.New("acquisition loop did not stop in time")
)

// State is the driver lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateScanning:
		return "scanning"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ScanCallback receives each completed scan on the acquisition goroutine.
// Callbacks must be quick and must not call StopScanning or Disconnect
// (doing so would deadlock the join). A panicking callback is recovered
// and logged; it never kills acquisition.
type ScanCallback func(*LaserScan)

// DriverConfig configures a Driver. Use DefaultDriverConfig for the
// factory settings and override fields as needed.
type DriverConfig struct {
	// Port is the serial device path. Required.
	Port string
	// BaudRate defaults to 230400.
	BaudRate int
	// HasIntensity selects the 3-byte sample layout. Note the zero value
	// means distance-only mode; DefaultDriverConfig sets it.
	HasIntensity bool
	// IntensityBits is 8 or 10; defaults to 8.
	IntensityBits int
	// BufferSize is the scan hand-off capacity; defaults to
	// DefaultScanBufferSize.
	BufferSize int
	// ReadTimeout bounds each serial read so the loop stays responsive
	// to stop requests; defaults to 100ms. Shutdown latency is roughly
	// this value.
	ReadTimeout time.Duration
	// Factory opens the serial port; defaults to the real implementation.
	// Tests and demo mode inject their own.
	Factory serialport.Factory
}

// DefaultDriverConfig returns the sensor's factory configuration for the
// given device path: 230400 baud, 8-bit intensity enabled.
func DefaultDriverConfig(port string) DriverConfig {
	return DriverConfig{
		Port:          port,
		BaudRate:      230400,
		HasIntensity:  true,
		IntensityBits: 8,
	}
}

// Driver is the consumer-facing facade over the acquisition pipeline. It
// owns the serial port for its Connected/Scanning lifetime and runs exactly
// one acquisition goroutine while Scanning.
//
// Lifecycle: Disconnected -> Connect -> Connected -> StartScanning ->
// Scanning -> StopScanning -> Connected -> Disconnect -> Disconnected.
//
// GetScan, ScanCount and IsScanning may be called concurrently from any
// number of goroutines. Multiple Driver instances are independent.
type Driver struct {
	cfg     DriverConfig
	factory serialport.Factory
	buffer  *ScanBuffer
	stats   *AcquisitionStats

	mu       sync.Mutex
	state    State
	port     serialport.TimeoutPorter
	callback ScanCallback
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
}

// NewDriver validates cfg, fills defaults, and returns a disconnected
// driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Port == "" {
		return nil, errors.New("tmini: port is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 230400
	}
	if cfg.IntensityBits == 0 {
		cfg.IntensityBits = 8
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.Factory == nil {
		cfg.Factory = serialport.RealFactory{}
	}

	if err := cfg.protocol().Validate(); err != nil {
		return nil, fmt.Errorf("tmini: %w", err)
	}

	return &Driver{
		cfg:     cfg,
		factory: cfg.Factory,
		buffer:  NewScanBuffer(cfg.BufferSize),
		stats:   NewAcquisitionStats(),
	}, nil
}

// protocol derives the wire configuration from the driver configuration.
func (c DriverConfig) protocol() Config {
	return Config{HasIntensity: c.HasIntensity, IntensityBits: c.IntensityBits}
}

// Connect opens the serial port. It fails with a wrapped open error on an
// invalid port and with ErrAlreadyConnected when not Disconnected.
func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateDisconnected {
		return ErrAlreadyConnected
	}

	mode := serialport.DefaultMode()
	mode.BaudRate = d.cfg.BaudRate

	port, err := d.factory.Open(d.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("tmini: connect: %w", err)
	}
	if err := port.SetReadTimeout(d.cfg.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("tmini: connect: set read timeout: %w", err)
	}

	d.port = port
	d.state = StateConnected
	d.lastErr = nil
	monitoring.Logf("tmini: connected to %s at %d baud", d.cfg.Port, d.cfg.BaudRate)
	return nil
}

// Disconnect stops scanning if necessary and releases the serial port.
// Disconnecting a disconnected driver is a no-op.
func (d *Driver) Disconnect() error {
	if err := d.StopScanning(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateDisconnected {
		return nil
	}

	err := d.port.Close()
	d.port = nil
	d.state = StateDisconnected
	monitoring.Logf("tmini: disconnected from %s", d.cfg.Port)
	if err != nil {
		return fmt.Errorf("tmini: disconnect: %w", err)
	}
	return nil
}

// StartScanning spawns the acquisition goroutine. The optional callback is
// invoked synchronously on that goroutine with each completed scan; pass
// nil to consume scans via GetScan only. Calling StartScanning while
// already scanning is an idempotent no-op.
func (d *Driver) StartScanning(callback ScanCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.takeErrLocked(); err != nil {
		return err
	}
	switch d.state {
	case StateScanning:
		return nil
	case StateDisconnected:
		return ErrNotConnected
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.callback = callback
	d.cancel = cancel
	d.done = make(chan struct{})
	d.state = StateScanning

	go d.run(ctx, d.port, callback, d.done)

	monitoring.Logf("tmini: scanning started")
	return nil
}

// StopScanning signals the acquisition goroutine to exit and joins it with
// a bounded wait. Stopping a driver that is not scanning is a no-op.
func (d *Driver) StopScanning() error {
	d.mu.Lock()
	if d.state != StateScanning {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()

	// The loop observes cancellation within one read timeout; the bound
	// leaves slack for decode work in flight.
	joinBound := 2*d.cfg.ReadTimeout + time.Second
	select {
	case <-done:
	case <-time.After(joinBound):
		monitoring.Logf("tmini: acquisition loop still running after %v", joinBound)
		return ErrStopTimeout
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateScanning {
		d.state = StateConnected
	}
	d.callback = nil
	d.cancel = nil
	d.done = nil
	monitoring.Logf("tmini: scanning stopped")
	return nil
}

// GetScan blocks up to timeout for the next completed scan. A nil scan
// with a nil error means the timeout elapsed with nothing queued, which is
// a normal outcome. A non-nil error reports a connection fault from the
// scanning session.
func (d *Driver) GetScan(timeout time.Duration) (*LaserScan, error) {
	if scan := d.buffer.Pop(timeout); scan != nil {
		return scan, nil
	}

	d.mu.Lock()
	err := d.takeErrLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// ScanCount returns the total number of scans produced since construction,
// counting scans later evicted by the drop-oldest policy.
func (d *Driver) ScanCount() int64 {
	return d.buffer.Count()
}

// IsScanning reports whether the acquisition goroutine is running.
func (d *Driver) IsScanning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateScanning
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns a snapshot of acquisition diagnostics.
func (d *Driver) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}

// WithConnection connects, runs fn, and guarantees the port is released on
// every exit path, including a panic inside fn.
func (d *Driver) WithConnection(fn func(*Driver) error) error {
	if err := d.Connect(); err != nil {
		return err
	}
	defer d.Disconnect()
	return fn(d)
}

// takeErrLocked surfaces and clears a pending connection fault. Caller
// holds d.mu.
func (d *Driver) takeErrLocked() error {
	err := d.lastErr
	d.lastErr = nil
	return err
}

// run is the acquisition loop. It owns all protocol state (read buffer,
// frame synchroniser, assembly state); nothing in here needs locking. Each
// iteration reads whatever bytes are available (bounded by the port read
// timeout), feeds the synchroniser, and drains every validated packet
// through decode and assembly. Completed scans are pushed to the buffer
// and, when registered, handed to the callback on this goroutine.
func (d *Driver) run(ctx context.Context, port serialport.TimeoutPorter, callback ScanCallback, done chan struct{}) {
	defer close(done)

	protoCfg := d.cfg.protocol()
	framer := NewFrameSync(protoCfg)
	asm := NewScanAssembler(func(scan *LaserScan) {
		d.buffer.Push(scan)
		d.stats.AddScan(len(scan.Points))
		if callback != nil {
			invokeCallback(callback, scan)
		}
	})

	readBuf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := port.Read(readBuf)
		if err != nil {
			d.failSession(fmt.Errorf("tmini: serial read: %v: %w", err, ErrConnectionLost))
			return
		}
		if n == 0 {
			continue // read timeout; loop to observe cancellation
		}

		d.stats.AddBytes(n)
		framer.Feed(readBuf[:n])

		for {
			h, payload, ok := framer.Next()
			if !ok {
				break
			}
			d.stats.AddPacket()
			asm.Feed(h, decodeSamples(protoCfg, h, payload))
		}
		d.stats.SetSync(framer.Stats())
	}
}

// invokeCallback runs the callback with panic isolation: a fault in
// consumer code must not kill acquisition.
func invokeCallback(callback ScanCallback, scan *LaserScan) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("tmini: scan callback panic: %v", r)
		}
	}()
	callback(scan)
}

// failSession records a connection fault, closes the port, and moves the
// driver to Disconnected. The fault is surfaced on the next API call; no
// automatic reconnect is attempted.
func (d *Driver) failSession(err error) {
	monitoring.Logf("%v", err)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastErr = err
	if d.port != nil {
		d.port.Close()
		d.port = nil
	}
	d.state = StateDisconnected
	d.callback = nil
	d.cancel = nil
}
