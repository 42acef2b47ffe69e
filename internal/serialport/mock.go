package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by operations on a closed TestablePort.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort implements TimeoutPorter with configurable behaviour for
// tests and synthetic replay. Reads honour the configured read timeout the
// same way go.bug.st/serial does: a Read against an empty buffer blocks up
// to the timeout and then returns n == 0 with a nil error.
type TestablePort struct {
	mu sync.Mutex

	// readBuffer holds data to be returned by Read calls.
	readBuffer bytes.Buffer

	// ReadError is returned by the next Read call if set.
	ReadError error

	// CloseError is returned by Close if set.
	CloseError error

	// ReadCalls records the number of Read calls.
	ReadCalls int

	closed      bool
	readTimeout time.Duration
	readCond    *sync.Cond
}

// NewTestablePort creates a TestablePort with an unlimited read timeout.
func NewTestablePort() *TestablePort {
	tp := &TestablePort{}
	tp.readCond = sync.NewCond(&tp.mu)
	return tp
}

// Read returns buffered data, blocking up to the read timeout when the
// buffer is empty.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.closed {
		return 0, ErrPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.readBuffer.Len() == 0 {
		deadline := time.Time{}
		if t.readTimeout > 0 {
			deadline = time.Now().Add(t.readTimeout)
			// Cond has no timed wait; poke waiters when the deadline passes.
			timer := time.AfterFunc(t.readTimeout, t.readCond.Broadcast)
			defer timer.Stop()
		}
		for !t.closed && t.readBuffer.Len() == 0 && t.ReadError == nil {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return 0, nil // timed out, matches go.bug.st/serial semantics
			}
			t.readCond.Wait()
		}
		if t.closed {
			return 0, ErrPortClosed
		}
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			return 0, err
		}
	}

	return t.readBuffer.Read(p)
}

// Close marks the port as closed and wakes any blocked readers.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// SetReadTimeout implements TimeoutPorter.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readTimeout = timeout
	return nil
}

// AddReadData appends data to be returned by subsequent Read calls and
// wakes a blocked reader.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readBuffer.Write(data)
	t.readCond.Signal()
}

// FailNextRead arranges for the next Read to return err, waking a blocked
// reader so connection-loss handling can be exercised.
func (t *TestablePort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// Closed reports whether Close has been called.
func (t *TestablePort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// MockFactory implements Factory for tests.
type MockFactory struct {
	mu sync.Mutex

	// Port is the port returned by Open.
	Port TimeoutPorter

	// Err is returned by Open if set.
	Err error

	// OpenCalls records all Open calls.
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Mode *Mode
}

// NewMockFactory creates a MockFactory returning the given port.
func NewMockFactory(port TimeoutPorter) *MockFactory {
	return &MockFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockFactory) Open(path string, mode *Mode) (TimeoutPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Mode: mode})
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
