package printer

import (
	"context"
	"sync"
)

// TargetCall records one SetHeaterTarget call.
type TargetCall struct {
	Heater string
	Target float64
}

// FakePrinter is a test double returning scripted snapshots.
type FakePrinter struct {
	mu sync.Mutex

	Printing bool
	Paused   bool

	// Snapshots are returned by successive Temperatures calls.
	// When exhausted the last snapshot repeats.
	Snapshots []Snapshot
	index     int

	// StateError, if set, is returned by IsPrinting and IsPaused.
	StateError error

	// TemperatureError, if set, is returned by Temperatures.
	TemperatureError error

	// TargetErrors are returned by successive SetHeaterTarget calls.
	// Once exhausted the calls succeed.
	TargetErrors []error

	// OnSetTarget, if set, is called from SetHeaterTarget.
	OnSetTarget func(heater string, target float64)

	calls []TargetCall
	reads int
}

// NewFakePrinter creates a FakePrinter with the given snapshots.
func NewFakePrinter(snapshots ...Snapshot) *FakePrinter {
	return &FakePrinter{Snapshots: snapshots}
}

func (f *FakePrinter) IsPrinting(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Printing, f.StateError
}

func (f *FakePrinter) IsPaused(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Paused, f.StateError
}

// Temperatures returns the next scripted snapshot.
func (f *FakePrinter) Temperatures(context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TemperatureError != nil {
		return nil, f.TemperatureError
	}
	f.reads++
	if len(f.Snapshots) == 0 {
		return Snapshot{}, nil
	}
	s := f.Snapshots[f.index]
	if f.index < len(f.Snapshots)-1 {
		f.index++
	}
	return s, nil
}

// SetHeaterTarget records the call.
func (f *FakePrinter) SetHeaterTarget(_ context.Context, heater string, target float64) error {
	f.mu.Lock()
	f.calls = append(f.calls, TargetCall{Heater: heater, Target: target})
	var err error
	if len(f.TargetErrors) > 0 {
		err = f.TargetErrors[0]
		f.TargetErrors = f.TargetErrors[1:]
	}
	hook := f.OnSetTarget
	f.mu.Unlock()
	if hook != nil {
		hook(heater, target)
	}
	return err
}

// Calls returns every SetHeaterTarget call so far.
func (f *FakePrinter) Calls() []TargetCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TargetCall(nil), f.calls...)
}

// Reads returns how many snapshots have been served.
func (f *FakePrinter) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// SetPrinting updates the scripted job state.
func (f *FakePrinter) SetPrinting(printing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Printing = printing
}

// SetTemperatureError changes the error returned by Temperatures.
func (f *FakePrinter) SetTemperatureError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TemperatureError = err
}
