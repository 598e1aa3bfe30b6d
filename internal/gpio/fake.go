package gpio

import (
	"sync"

	"github.com/sweeney/psu-off/internal/pinmap"
)

// FakeDriver is a test double that records claimed lines.
type FakeDriver struct {
	mu sync.Mutex

	// ActiveMode is returned by Mode. Zero value means no hardware.
	ActiveMode pinmap.Mode

	// RequestError, if set, will be returned by RequestOutput.
	RequestError error

	// Lines contains every line ever claimed, in order.
	Lines []*FakeLine

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeDriver creates a FakeDriver addressing lines in BCM numbering.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{ActiveMode: pinmap.ModeLogical}
}

// Mode returns ActiveMode.
func (f *FakeDriver) Mode() pinmap.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ActiveMode
}

// RequestOutput records a new FakeLine at its initial level.
func (f *FakeDriver) RequestOutput(pin, initial int) (Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RequestError != nil {
		return nil, f.RequestError
	}
	l := &FakeLine{Pin: pin, values: []int{initial}}
	f.Lines = append(f.Lines, l)
	return l, nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Last returns the most recently claimed line, or nil.
func (f *FakeDriver) Last() *FakeLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Lines) == 0 {
		return nil
	}
	return f.Lines[len(f.Lines)-1]
}

// FakeLine records every level written to it.
type FakeLine struct {
	mu sync.Mutex

	Pin int

	// SetError, if set, will be returned by SetValue.
	SetError error

	values []int
	closed bool
}

// SetValue records value.
func (l *FakeLine) SetValue(value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SetError != nil {
		return l.SetError
	}
	l.values = append(l.values, value)
	return nil
}

// Close marks the line as released.
func (l *FakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Values returns the initial level followed by every SetValue.
func (l *FakeLine) Values() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.values...)
}

// Level returns the last level written.
func (l *FakeLine) Level() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values[len(l.values)-1]
}

// IsClosed reports whether Close was called.
func (l *FakeLine) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
