// Package gpio drives the power-supply relay line with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sweeney/psu-off/internal/pinmap"
)

var (
	// ErrHardwareUnavailable means no GPIO subsystem is present. Power
	// control is disabled; host shutdown still works.
	ErrHardwareUnavailable = errors.New("gpio: hardware unavailable")

	// ErrDriver wraps failures reported by the platform when claiming or driving a line.
	ErrDriver = errors.New("gpio: driver error")
)

// Line is a claimed output line.
type Line interface {
	SetValue(value int) error
	Close() error
}

// Driver claims output lines from the GPIO subsystem.
type Driver interface {
	// Mode reports the numbering lines are addressed by, or
	// pinmap.ModeNone when no GPIO hardware is present.
	Mode() pinmap.Mode

	// RequestOutput claims pin as an output driven to initial.
	RequestOutput(pin, initial int) (Line, error)

	// Close releases the driver.
	Close() error
}

// Unavailable is the Driver used when the GPIO chip cannot be opened.
type Unavailable struct{}

func (Unavailable) Mode() pinmap.Mode { return pinmap.ModeNone }

func (Unavailable) RequestOutput(int, int) (Line, error) { return nil, ErrHardwareUnavailable }

func (Unavailable) Close() error { return nil }

// PinConfig selects the relay line.
type PinConfig struct {
	Mode   pinmap.Mode // numbering Pin is given in
	Pin    int
	Invert bool // relay switches off on a low level instead of high
}

// idleLevel is the level the line rests at while the supply is on.
func (c PinConfig) idleLevel() int {
	if c.Invert {
		return 1
	}
	return 0
}

// triggerLevel is the level that switches the supply off.
func (c PinConfig) triggerLevel() int {
	return 1 - c.idleLevel()
}

// Relay owns at most one claimed output line.
// Hardware errors are logged here and never panic.
type Relay struct {
	mu     sync.Mutex
	driver Driver
	logger *slog.Logger

	line Line
	cfg  PinConfig
	pin  int // effective pin in the driver's numbering
}

// NewRelay creates a Relay using driver. A nil driver behaves like Unavailable.
func NewRelay(driver Driver, logger *slog.Logger) *Relay {
	if driver == nil {
		driver = Unavailable{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{driver: driver, logger: logger.With("component", "gpio")}
}

// Configure releases any previously claimed line and claims the line
// described by cfg at its idle level. On error nothing is claimed and
// later Off calls are no-ops.
func (r *Relay) Configure(cfg PinConfig, rev pinmap.Revision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked()

	active := r.driver.Mode()
	if active == pinmap.ModeNone {
		r.logger.Error("no GPIO subsystem, power control disabled")
		return ErrHardwareUnavailable
	}

	pin, err := pinmap.Resolve(cfg.Mode, active, rev, cfg.Pin)
	if err != nil {
		r.logger.Error("cannot resolve relay pin", "pin", cfg.Pin, "mode", cfg.Mode, "active", active, "revision", rev, "error", err)
		return err
	}

	line, err := r.driver.RequestOutput(pin, cfg.idleLevel())
	if err != nil {
		r.logger.Error("cannot claim relay pin", "pin", pin, "error", err)
		if errors.Is(err, ErrHardwareUnavailable) {
			return err
		}
		return fmt.Errorf("%w: claim pin %d: %v", ErrDriver, pin, err)
	}

	r.line = line
	r.cfg = cfg
	r.pin = pin
	r.logger.Info("relay configured", "pin", cfg.Pin, "mode", cfg.Mode, "line", pin, "invert", cfg.Invert, "revision", rev)
	return nil
}

// Off drives the claimed line to the level that switches the supply off.
// It does nothing when no line is claimed.
func (r *Relay) Off() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.line == nil {
		r.logger.Warn("relay not configured, skipping power off")
		return nil
	}

	level := r.cfg.triggerLevel()
	r.logger.Info("switching supply off", "line", r.pin, "level", level)
	if err := r.line.SetValue(level); err != nil {
		r.logger.Error("cannot drive relay pin", "line", r.pin, "error", err)
		return fmt.Errorf("%w: set pin %d: %v", ErrDriver, r.pin, err)
	}
	return nil
}

// Release unclaims the line. Safe to call repeatedly.
func (r *Relay) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked()
}

// Claimed reports the configured pin if a line is held.
func (r *Relay) Claimed() (PinConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, r.line != nil
}

func (r *Relay) releaseLocked() error {
	if r.line == nil {
		return nil
	}
	r.logger.Debug("releasing relay pin", "line", r.pin)
	err := r.line.Close()
	r.line = nil
	r.cfg = PinConfig{}
	r.pin = 0
	if err != nil {
		r.logger.Error("release relay pin", "error", err)
		return fmt.Errorf("%w: release: %v", ErrDriver, err)
	}
	return nil
}
