package power

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/psu-off/internal/config"
	"github.com/sweeney/psu-off/internal/cooldown"
	"github.com/sweeney/psu-off/internal/gpio"
	"github.com/sweeney/psu-off/internal/host"
	"github.com/sweeney/psu-off/internal/pinmap"
	"github.com/sweeney/psu-off/internal/printer"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	c       *Controller
	driver  *gpio.FakeDriver
	printer *printer.FakePrinter
	host    *host.Fake
	events  *recordingSink
}

func newHarness(t *testing.T, p *printer.FakePrinter) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		driver:  gpio.NewFakeDriver(),
		printer: p,
		host:    &host.Fake{},
		events:  &recordingSink{},
	}
	h.c = New(Deps{
		Relay:          gpio.NewRelay(h.driver, logger),
		Printer:        p,
		Host:           h.host,
		Events:         h.events,
		DetectRevision: func() pinmap.Revision { return pinmap.Rev3 },
		Logger:         logger,
	})
	t.Cleanup(func() { h.c.Close() })
	return h
}

func testConfig(timeout time.Duration) config.Config {
	cfg := config.Default()
	cfg.GPIO.Mode = pinmap.ModePhysical
	cfg.GPIO.Pin = 11 // BCM 17
	cfg.Idle.Enabled = true
	cfg.Idle.Timeout = timeout
	cfg.Idle.PollInterval = 5 * time.Millisecond
	cfg.Idle.SafetyTemp = 50
	return cfg
}

func coolTool() printer.Snapshot {
	return printer.Snapshot{"tool0": {Target: 0.0, Actual: 25.0}}
}

func TestIdlePowerOffEndToEnd(t *testing.T) {
	p := printer.NewFakePrinter(
		printer.Snapshot{"tool0": {Target: 200.0, Actual: 80.0}, "bed": {Target: 60.0, Actual: 60.0}},
		printer.Snapshot{"tool0": {Target: 0.0, Actual: 70.0}},
		printer.Snapshot{"tool0": {Target: 0.0, Actual: 60.0}},
		printer.Snapshot{"tool0": {Target: 0.0, Actual: 40.0}},
	)
	h := newHarness(t, p)
	h.c.ApplySettings(testConfig(60 * time.Millisecond))

	line := h.driver.Last()
	require.NotNil(t, line)
	assert.Equal(t, 17, line.Pin)
	assert.Equal(t, StateOn, h.c.State())

	require.Eventually(t, func() bool { return h.host.Calls() == 1 }, waitFor, tick)

	assert.Equal(t, StateOff, h.c.State())
	assert.Equal(t, []int{0, 1}, line.Values(), "relay driven off exactly once")
	assert.ElementsMatch(t, []printer.TargetCall{
		{Heater: "tool0", Target: 0},
		{Heater: "bed", Target: 0},
	}, p.Calls())
	assert.Equal(t, []EventType{EventIdleTimeout, EventPowerOff}, h.events.types())

	// Nothing else happens afterwards.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, h.host.Calls())
	assert.False(t, h.c.Snapshot().TimerArmed)
}

func TestIgnoredCommandDoesNotResetTimer(t *testing.T) {
	h := newHarness(t, printer.NewFakePrinter(coolTool()))
	h.c.ApplySettings(testConfig(60 * time.Millisecond))

	stop := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(stop) && h.host.Calls() == 0 {
		h.c.OnActivity("M105")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, h.host.Calls(), "M105 polling must not keep the printer alive")
}

func TestActivityResetsTimer(t *testing.T) {
	h := newHarness(t, printer.NewFakePrinter(coolTool()))
	h.c.ApplySettings(testConfig(80 * time.Millisecond))

	for i := 0; i < 20; i++ {
		h.c.OnActivity("G1")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, h.host.Calls())
	assert.Equal(t, "G1", h.c.Snapshot().LastCommand)

	require.Eventually(t, func() bool { return h.host.Calls() == 1 }, waitFor, tick)
}

func TestActivityAbortsCooldown(t *testing.T) {
	p := printer.NewFakePrinter(
		printer.Snapshot{"tool0": {Target: 200.0, Actual: 80.0}},
		printer.Snapshot{"tool0": {Target: 0.0, Actual: 80.0}},
	)
	h := newHarness(t, p)
	cfg := testConfig(30 * time.Millisecond)
	h.c.ApplySettings(cfg)

	require.Eventually(t, func() bool { return p.Reads() >= 3 }, waitFor, tick)
	assert.True(t, h.c.Snapshot().Waiting)

	h.c.OnActivity("G28")

	require.Eventually(t, func() bool {
		for _, e := range h.events.types() {
			if e == EventCooldownAborted {
				return true
			}
		}
		return false
	}, waitFor, tick)

	assert.Equal(t, StateOn, h.c.State())
	assert.Equal(t, 0, h.host.Calls())
	assert.Equal(t, []int{0}, h.driver.Last().Values(), "relay untouched")
	assert.Len(t, p.Calls(), 1, "heater commanded off once")
}

func TestCoordinatorCommandsAreNotActivity(t *testing.T) {
	p := printer.NewFakePrinter(
		printer.Snapshot{"tool0": {Target: 210.0, Actual: 60.0}},
		printer.Snapshot{"tool0": {Target: 0.0, Actual: 55.0}},
		printer.Snapshot{"tool0": {Target: 0.0, Actual: 45.0}},
	)
	h := newHarness(t, p)
	// The printer host echoes the heater command back into the command
	// stream once the RPC has already returned.
	p.OnSetTarget = func(string, float64) {
		go func() {
			time.Sleep(time.Millisecond)
			h.c.OnActivity("SET_HEATER_TEMPERATURE")
			h.c.OnActivity("M104")
		}()
	}
	h.c.ApplySettings(testConfig(30 * time.Millisecond))

	require.Eventually(t, func() bool { return h.host.Calls() == 1 }, waitFor, tick)
	assert.Equal(t, StateOff, h.c.State())
	assert.Equal(t, []EventType{EventIdleTimeout, EventPowerOff}, h.events.types())
}

func TestHeaterCommandsOutsideCooldownAreActivity(t *testing.T) {
	h := newHarness(t, printer.NewFakePrinter(coolTool()))
	h.c.ApplySettings(testConfig(time.Hour))

	h.c.OnActivity("M104")
	assert.Equal(t, "M104", h.c.Snapshot().LastCommand)
}

func TestPrintingDefersPowerOff(t *testing.T) {
	p := printer.NewFakePrinter(coolTool())
	p.Printing = true
	h := newHarness(t, p)
	h.c.ApplySettings(testConfig(20 * time.Millisecond))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, h.host.Calls())
	assert.Equal(t, StateOn, h.c.State())
	assert.Empty(t, p.Calls())

	p.SetPrinting(false)
	require.Eventually(t, func() bool { return h.host.Calls() == 1 }, waitFor, tick)
}

func TestPrinterStateErrorDefersPowerOff(t *testing.T) {
	p := printer.NewFakePrinter(coolTool())
	p.StateError = errors.New("klippy disconnected")
	h := newHarness(t, p)
	h.c.ApplySettings(testConfig(20 * time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.host.Calls())
	assert.True(t, h.c.Snapshot().TimerArmed)
}

func TestForcePowerOffWhilePrinting(t *testing.T) {
	p := printer.NewFakePrinter(printer.Snapshot{"tool0": {Target: 210.0, Actual: 210.0}})
	p.Printing = true
	h := newHarness(t, p)
	cfg := testConfig(time.Hour)
	cfg.GPIO.Invert = true
	h.c.ApplySettings(cfg)

	h.c.ForcePowerOff()

	assert.Equal(t, StateOff, h.c.State())
	assert.Equal(t, []int{1, 0}, h.driver.Last().Values(), "inverted relay driven low")
	assert.Equal(t, 1, h.host.Calls())
	assert.Empty(t, p.Calls(), "forced power off skips cooldown")
	assert.False(t, h.c.Snapshot().TimerArmed)
	assert.Equal(t, []EventType{EventPowerOff}, h.events.types())
}

func TestForcePowerOffWithoutRelayStillShutsDown(t *testing.T) {
	h := newHarness(t, printer.NewFakePrinter())
	h.driver.RequestError = errors.New("line busy")
	h.c.ApplySettings(testConfig(time.Hour))

	h.c.ForcePowerOff()
	assert.Equal(t, 1, h.host.Calls())
	assert.Equal(t, StateOff, h.c.State())
}

func TestHostShutdownErrorIsLogged(t *testing.T) {
	h := newHarness(t, printer.NewFakePrinter())
	h.host.Err = errors.New("sudo: a password is required")
	h.c.ApplySettings(testConfig(time.Hour))

	h.c.ForcePowerOff()
	assert.Equal(t, StateOff, h.c.State())
	assert.Equal(t, 1, h.host.Calls())
}

func TestDisabledIgnoresActivity(t *testing.T) {
	h := newHarness(t, printer.NewFakePrinter(coolTool()))
	cfg := testConfig(20 * time.Millisecond)
	cfg.Idle.Enabled = false
	h.c.ApplySettings(cfg)

	h.c.OnActivity("G1")
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, h.host.Calls())
	assert.False(t, h.c.Snapshot().TimerArmed)
	assert.Empty(t, h.c.Snapshot().LastCommand)
}

func TestDisableDuringCooldownAborts(t *testing.T) {
	p := printer.NewFakePrinter(printer.Snapshot{"tool0": {Target: 0.0, Actual: 90.0}})
	h := newHarness(t, p)
	cfg := testConfig(20 * time.Millisecond)
	h.c.ApplySettings(cfg)

	require.Eventually(t, func() bool { return h.c.Snapshot().Cooldown == cooldown.StatePolling }, waitFor, tick)

	cfg.Idle.Enabled = false
	h.c.ApplySettings(cfg)

	require.Eventually(t, func() bool { return h.c.Snapshot().Cooldown == cooldown.StateAborted }, waitFor, tick)
	assert.Equal(t, 0, h.host.Calls())
	assert.Equal(t, StateOn, h.c.State())
}

func TestApplySettingsRevision(t *testing.T) {
	h := newHarness(t, printer.NewFakePrinter())
	h.c.detect = func() pinmap.Revision { return pinmap.Rev1 }

	cfg := testConfig(time.Hour)
	cfg.GPIO.Pin = 3 // BCM 0 on rev1, BCM 2 afterwards
	h.c.ApplySettings(cfg)
	assert.Equal(t, 0, h.driver.Last().Pin)
	assert.Equal(t, pinmap.Rev1, h.c.Snapshot().Revision)

	cfg.GPIO.Revision = pinmap.Rev3
	h.c.ApplySettings(cfg)
	assert.Equal(t, 2, h.driver.Last().Pin)
	assert.True(t, h.driver.Lines[0].IsClosed(), "previous line released")
}

func TestSettingsReplacedWholesale(t *testing.T) {
	h := newHarness(t, printer.NewFakePrinter())
	cfg := testConfig(time.Hour)
	h.c.ApplySettings(cfg)

	cfg.Idle.IgnoreCommands = []string{"G1"}
	h.c.ApplySettings(cfg)
	assert.Equal(t, []string{"G1"}, h.c.Config().Idle.IgnoreCommands)

	before := h.c.Snapshot().Remaining
	time.Sleep(5 * time.Millisecond)
	h.c.OnActivity("G1")
	assert.Less(t, h.c.Snapshot().Remaining, before, "ignored command must not restart the countdown")
}
