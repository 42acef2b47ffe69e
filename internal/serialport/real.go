package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// RealFactory opens real serial devices via go.bug.st/serial.
type RealFactory struct{}

// Open opens the device at path with the given framing.
func (RealFactory) Open(path string, mode *Mode) (TimeoutPorter, error) {
	if mode == nil {
		mode = DefaultMode()
	}

	sm, err := serialMode(mode)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, sm)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// serialMode translates a Mode into the go.bug.st/serial representation.
func serialMode(mode *Mode) (*serial.Mode, error) {
	sm := &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
	}

	switch mode.Parity {
	case NoParity:
		sm.Parity = serial.NoParity
	case OddParity:
		sm.Parity = serial.OddParity
	case EvenParity:
		sm.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity: %d", mode.Parity)
	}

	switch mode.StopBits {
	case OneStopBit:
		sm.StopBits = serial.OneStopBit
	case TwoStopBits:
		sm.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", mode.StopBits)
	}

	return sm, nil
}
