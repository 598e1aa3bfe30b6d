package cooldown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/psu-off/internal/printer"
)

const testPoll = 5 * time.Millisecond

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tool(target, actual any) printer.Heater {
	return printer.Heater{Target: target, Actual: actual}
}

func TestWaitCommandsOffThenCompletes(t *testing.T) {
	p := printer.NewFakePrinter(
		printer.Snapshot{"tool0": tool(200.0, 80.0)},
		printer.Snapshot{"tool0": tool(0.0, 70.0)},
		printer.Snapshot{"tool0": tool(0.0, 55.0)},
		printer.Snapshot{"tool0": tool(0.0, 50.0)},
	)
	c := New(p, testPoll, quietLogger())

	ok := c.Wait(context.Background(), 50)
	require.True(t, ok)
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, []printer.TargetCall{{Heater: "tool0", Target: 0}}, p.Calls())
	assert.Equal(t, 50.0, c.Highest())
}

func TestWaitAbortsOnCancel(t *testing.T) {
	p := printer.NewFakePrinter(
		printer.Snapshot{"tool0": tool(200.0, 80.0)},
		printer.Snapshot{"tool0": tool(0.0, 80.0)},
	)
	c := New(p, testPoll, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- c.Wait(ctx, 50) }()

	require.Eventually(t, func() bool { return p.Reads() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	assert.Equal(t, StateAborted, c.State())
	assert.Len(t, p.Calls(), 1, "zero command issued once, never repeated")
}

func TestWaitAlreadyCancelled(t *testing.T) {
	p := printer.NewFakePrinter(printer.Snapshot{"tool0": tool(200.0, 80.0)})
	c := New(p, testPoll, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, c.Wait(ctx, 50))
	assert.Equal(t, StateAborted, c.State())
}

func TestWaitIgnoresNonToolHeaters(t *testing.T) {
	p := printer.NewFakePrinter(printer.Snapshot{
		"tool0": tool(0.0, 30.0),
		"bed":   tool(60.0, 90.0),
	})
	c := New(p, testPoll, quietLogger())

	assert.True(t, c.Wait(context.Background(), 50), "hot bed must not hold up the cooldown")
	assert.Equal(t, []printer.TargetCall{{Heater: "bed", Target: 0}}, p.Calls())
}

func TestWaitSkipsMissingAndNonNumeric(t *testing.T) {
	p := printer.NewFakePrinter(printer.Snapshot{
		"tool0": tool(nil, nil),
		"tool1": tool("off", "n/a"),
		"tool2": tool("0", 20.0),
	})
	c := New(p, testPoll, quietLogger())

	assert.True(t, c.Wait(context.Background(), 50))
	assert.Empty(t, p.Calls())
}

func TestWaitSkipsHeatersAlreadyOff(t *testing.T) {
	p := printer.NewFakePrinter(printer.Snapshot{
		"tool0": tool(0.0, 45.0),
		"tool1": tool(215.0, 45.0),
	})
	c := New(p, testPoll, quietLogger())

	assert.True(t, c.Wait(context.Background(), 50))
	assert.Equal(t, []printer.TargetCall{{Heater: "tool1", Target: 0}}, p.Calls())
}

func TestWaitRetriesAfterReadError(t *testing.T) {
	p := printer.NewFakePrinter(printer.Snapshot{"tool0": tool(0.0, 20.0)})
	p.SetTemperatureError(errors.New("klippy not ready"))
	c := New(p, testPoll, quietLogger())

	done := make(chan bool, 1)
	go func() { done <- c.Wait(context.Background(), 50) }()

	time.Sleep(4 * testPoll)
	assert.Equal(t, StateCommandingOff, c.State())

	p.SetTemperatureError(nil)
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not recover from read errors")
	}
}

func TestWaitCommandsOffAfterReadRecovers(t *testing.T) {
	p := printer.NewFakePrinter(
		printer.Snapshot{"tool0": tool(200.0, 200.0)},
		printer.Snapshot{"tool0": tool(200.0, 120.0)},
		printer.Snapshot{"tool0": tool(0.0, 40.0)},
	)
	p.SetTemperatureError(errors.New("klippy not ready"))
	c := New(p, testPoll, quietLogger())

	done := make(chan bool, 1)
	go func() { done <- c.Wait(context.Background(), 50) }()

	time.Sleep(4 * testPoll)
	assert.Empty(t, p.Calls())
	p.SetTemperatureError(nil)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not finish after reads recovered")
	}
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, []printer.TargetCall{{Heater: "tool0", Target: 0}}, p.Calls(),
		"heater commanded off once, not again while its target still reads 200")
}

func TestWaitRetriesFailedCommand(t *testing.T) {
	p := printer.NewFakePrinter(
		printer.Snapshot{"tool0": tool(200.0, 200.0), "bed": tool(60.0, 60.0)},
		printer.Snapshot{"tool0": tool(200.0, 150.0), "bed": tool(0.0, 58.0)},
		printer.Snapshot{"tool0": tool(0.0, 45.0), "bed": tool(0.0, 55.0)},
	)
	// bed sorts first: its command succeeds, tool0's fails once.
	p.TargetErrors = []error{nil, errors.New("timeout")}
	c := New(p, testPoll, quietLogger())

	require.True(t, c.Wait(context.Background(), 50))
	assert.Equal(t, []printer.TargetCall{
		{Heater: "bed", Target: 0},
		{Heater: "tool0", Target: 0},
		{Heater: "tool0", Target: 0},
	}, p.Calls())
}

func TestWaitAbortsWhileCommandsFail(t *testing.T) {
	p := printer.NewFakePrinter(printer.Snapshot{"tool0": tool(200.0, 200.0)})
	p.TargetErrors = []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}
	c := New(p, testPoll, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- c.Wait(ctx, 50) }()

	require.Eventually(t, func() bool { return len(p.Calls()) >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	assert.Equal(t, StateAborted, c.State())
}

func TestDefaultPollInterval(t *testing.T) {
	c := New(printer.NewFakePrinter(), 0, nil)
	assert.Equal(t, DefaultPollInterval, c.pollInterval)
	assert.Equal(t, StateIdle, c.State())
}
