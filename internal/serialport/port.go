// Package serialport abstracts the serial device the lidar is attached to.
// The driver only needs timed reads from an ordered byte stream, so the
// interface is deliberately minimal; the abstraction exists to enable unit
// testing and synthetic replay without real hardware.
package serialport

import (
	"io"
	"time"
)

// Porter defines the minimal interface needed for a lidar serial port.
type Porter interface {
	io.Reader
	io.Closer
}

// TimeoutPorter extends Porter with a read timeout. Ports used by the
// acquisition loop must implement it: the loop relies on short read
// timeouts to stay responsive to stop requests.
type TimeoutPorter interface {
	Porter
	// SetReadTimeout bounds how long a single Read may block. A Read that
	// times out returns n == 0 with a nil error.
	SetReadTimeout(timeout time.Duration) error
}

// Mode defines serial port framing parameters.
type Mode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// DefaultMode returns the framing used by the T-mini family: 230400 baud,
// 8 data bits, no parity, one stop bit, no flow control.
func DefaultMode() *Mode {
	return &Mode{
		BaudRate: 230400,
		DataBits: 8,
		Parity:   NoParity,
		StopBits: OneStopBit,
	}
}

// Factory creates serial ports. The driver takes a Factory rather than an
// open port so that connect/disconnect cycles and port-open failures can be
// exercised in tests.
type Factory interface {
	// Open opens a serial port at the specified path with the given mode.
	Open(path string, mode *Mode) (TimeoutPorter, error)
}
