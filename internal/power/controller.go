package power

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sweeney/psu-off/internal/config"
	"github.com/sweeney/psu-off/internal/cooldown"
	"github.com/sweeney/psu-off/internal/gpio"
	"github.com/sweeney/psu-off/internal/host"
	"github.com/sweeney/psu-off/internal/idletimer"
	"github.com/sweeney/psu-off/internal/pinmap"
	"github.com/sweeney/psu-off/internal/printer"
)

// Relay is the GPIO line switching the supply.
type Relay interface {
	Configure(cfg gpio.PinConfig, rev pinmap.Revision) error
	Off() error
	Release() error
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Relay   Relay
	Printer printer.Printer
	Host    host.Shutdowner
	Events  EventSink // optional

	// DetectRevision reports the board revision when the configuration
	// does not override it.
	DetectRevision func() pinmap.Revision

	Logger *slog.Logger
	Now    func() time.Time
}

// Controller owns the configuration, the idle timer and the power state.
// All methods are safe for concurrent use.
type Controller struct {
	relay    Relay
	printer  printer.Printer
	host     host.Shutdowner
	events   EventSink
	detect   func() pinmap.Revision
	logger   *slog.Logger
	now      func() time.Time
	timer    *idletimer.Timer
	cfg      atomic.Pointer[config.Config]
	revision atomic.Int32

	// commanding is raised while the coordinator sends heater-off commands
	// so that those commands do not count as activity.
	commanding atomic.Bool

	mu           sync.Mutex
	state        State
	waiting      bool
	cancelWait   context.CancelFunc
	coordinator  *cooldown.Coordinator
	lastActivity time.Time
	lastCommand  string
}

// New creates a Controller in StateOn. Call ApplySettings before use.
func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	detect := d.DetectRevision
	if detect == nil {
		detect = func() pinmap.Revision { return pinmap.Rev3 }
	}
	return &Controller{
		relay:   d.Relay,
		printer: d.Printer,
		host:    d.Host,
		events:  d.Events,
		detect:  detect,
		logger:  logger.With("component", "power"),
		now:     now,
		timer:   idletimer.New(),
		state:   StateOn,
	}
}

// ApplySettings replaces the configuration, reconfigures the relay and
// starts or cancels the idle timer.
func (c *Controller) ApplySettings(cfg config.Config) {
	c.cfg.Store(&cfg)

	rev := cfg.GPIO.Revision
	if rev == 0 {
		rev = c.detect()
	}
	c.revision.Store(int32(rev))

	if err := c.relay.Configure(cfg.GPIO.PinConfig(), rev); err != nil {
		c.logger.Warn("continuing without power control", "error", err)
	}

	if cfg.Idle.Enabled {
		c.logger.Info("idle power off enabled", "timeout", cfg.Idle.Timeout, "safety_temp", cfg.Idle.SafetyTemp, "ignore", cfg.Idle.IgnoreCommands)
		c.timer.Start(cfg.Idle.Timeout, c.onIdleTimeout)
		return
	}
	c.logger.Info("idle power off disabled")
	c.timer.Cancel()
	c.abortWait()
}

// Config returns the current configuration.
func (c *Controller) Config() config.Config {
	if cfg := c.cfg.Load(); cfg != nil {
		return *cfg
	}
	return config.Default()
}

// heaterCodes are the commands a cooldown issues. Their echoes reach the
// command stream asynchronously, after the guard has dropped.
var heaterCodes = map[string]bool{
	"M104":                   true,
	"M140":                   true,
	"SET_HEATER_TEMPERATURE": true,
}

// OnActivity is called for every command queued to the printer.
func (c *Controller) OnActivity(code string) {
	if code == "" {
		return
	}
	cfg := c.cfg.Load()
	if cfg == nil || !cfg.Idle.Enabled || c.State() != StateOn || c.commanding.Load() {
		return
	}
	if cfg.Idle.Ignored(code) {
		return
	}

	c.mu.Lock()
	if c.waiting && heaterCodes[code] {
		c.mu.Unlock()
		c.logger.Debug("heater command during cooldown ignored", "code", code)
		return
	}
	c.lastActivity = c.now()
	c.lastCommand = code
	c.mu.Unlock()

	c.abortWait()
	c.timer.Reset()
}

// abortWait cancels an in-flight cooldown wait, if any.
func (c *Controller) abortWait() {
	c.mu.Lock()
	cancel := c.cancelWait
	c.cancelWait = nil
	c.mu.Unlock()
	if cancel != nil {
		c.logger.Info("activity detected, aborting cooldown")
		cancel()
	}
}

// onIdleTimeout runs on the idle timer's goroutine and may block for the
// whole cooldown.
func (c *Controller) onIdleTimeout() {
	cfg := c.cfg.Load()
	if cfg == nil || !cfg.Idle.Enabled {
		c.logger.Debug("idle timeout ignored, idle power off disabled")
		return
	}

	c.mu.Lock()
	busy := c.waiting
	c.mu.Unlock()
	if busy {
		c.logger.Debug("idle timeout ignored, already waiting for heaters")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reason := c.printerBusy(ctx); reason != "" {
		c.logger.Info("idle timeout deferred", "reason", reason)
		c.timer.Reset()
		return
	}

	coord := cooldown.New(guardedPrinter{Printer: c.printer, guard: &c.commanding}, cfg.Idle.PollInterval, c.logger)
	cycle := uuid.NewString()

	c.mu.Lock()
	// A re-armed timer means activity arrived while the printer was queried.
	if c.waiting || c.state != StateOn || c.timer.Armed() {
		c.mu.Unlock()
		return
	}
	c.waiting = true
	c.cancelWait = cancel
	c.coordinator = coord
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.waiting = false
		c.cancelWait = nil
		c.mu.Unlock()
	}()

	c.logger.Info("idle timeout reached, turning heaters off before switching supply off", "timeout", cfg.Idle.Timeout, "cycle", cycle)
	c.publish(Event{Type: EventIdleTimeout, State: StateOn, Reason: ReasonIdle, Cycle: cycle})

	if !coord.Wait(ctx, cfg.Idle.SafetyTemp) {
		c.logger.Info("aborted supply power off due to activity", "cycle", cycle)
		c.publish(Event{Type: EventCooldownAborted, State: c.State(), Reason: ReasonIdle, Cycle: cycle, ToolTemp: coord.Highest()})
		return
	}

	c.powerOff(ReasonIdle, cycle, coord.Highest())
}

// printerBusy returns a non-empty reason when the printer must not be
// powered off.
func (c *Controller) printerBusy(ctx context.Context) string {
	printing, err := c.printer.IsPrinting(ctx)
	if err != nil {
		c.logger.Warn("cannot read printer state", "error", err)
		return "printer state unavailable"
	}
	if printing {
		return "printing"
	}
	paused, err := c.printer.IsPaused(ctx)
	if err != nil {
		c.logger.Warn("cannot read printer state", "error", err)
		return "printer state unavailable"
	}
	if paused {
		return "paused"
	}
	return ""
}

// ForcePowerOff switches the supply off and shuts the host down without
// any idle or printer checks.
func (c *Controller) ForcePowerOff() {
	c.logger.Info("forced power off requested")
	c.timer.Cancel()
	c.abortWait()
	c.powerOff(ReasonForced, uuid.NewString(), 0)
}

func (c *Controller) powerOff(reason Reason, cycle string, toolTemp float64) {
	// A relay failure must not keep the host running.
	if err := c.relay.Off(); err != nil {
		c.logger.Error("relay did not switch, continuing with host shutdown", "error", err)
	}

	c.mu.Lock()
	c.state = StateOff
	c.mu.Unlock()
	c.timer.Cancel()

	c.logger.Info("supply switched off", "reason", reason, "cycle", cycle)
	c.publish(Event{Type: EventPowerOff, State: StateOff, Reason: reason, Cycle: cycle, ToolTemp: toolTemp})

	if err := c.host.Shutdown(context.Background()); err != nil {
		c.logger.Error("host shutdown failed", "error", err)
		return
	}
	c.logger.Info("host shutdown requested")
}

func (c *Controller) publish(e Event) {
	if c.events == nil {
		return
	}
	e.Timestamp = c.now()
	if err := c.events.Publish(e); err != nil {
		c.logger.Warn("publish event failed", "event", e.Type, "error", err)
	}
}

// State returns the power-supply state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot is a point-in-time view for status consumers.
type Snapshot struct {
	State        State
	Revision     pinmap.Revision
	TimerArmed   bool
	Remaining    time.Duration
	Waiting      bool
	Cooldown     cooldown.State
	ToolTemp     float64
	LastActivity time.Time
	LastCommand  string
	Config       config.Config
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:        c.state,
		Waiting:      c.waiting,
		Cooldown:     cooldown.StateIdle,
		LastActivity: c.lastActivity,
		LastCommand:  c.lastCommand,
	}
	coord := c.coordinator
	c.mu.Unlock()

	if coord != nil {
		s.Cooldown = coord.State()
		s.ToolTemp = coord.Highest()
	}
	s.Revision = pinmap.Revision(c.revision.Load())
	s.TimerArmed = c.timer.Armed()
	s.Remaining = c.timer.Remaining()
	s.Config = c.Config()
	return s
}

// Close cancels the timer and any cooldown, then releases the relay line.
func (c *Controller) Close() error {
	c.timer.Cancel()
	c.abortWait()
	return c.relay.Release()
}

// guardedPrinter raises guard around heater commands.
type guardedPrinter struct {
	printer.Printer
	guard *atomic.Bool
}

func (g guardedPrinter) SetHeaterTarget(ctx context.Context, heater string, target float64) error {
	g.guard.Store(true)
	defer g.guard.Store(false)
	return g.Printer.SetHeaterTarget(ctx, heater, target)
}
