// Package cooldown turns heaters off and waits until the tool heaters are
// cool enough to cut power.
package cooldown

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/psu-off/internal/printer"
)

// DefaultPollInterval is how often temperatures are re-read while waiting.
const DefaultPollInterval = 5 * time.Second

// State is the coordinator's position in a cooldown cycle.
type State string

const (
	StateIdle          State = "IDLE"
	StateCommandingOff State = "COMMANDING_OFF"
	StatePolling       State = "POLLING"
	StateDone          State = "DONE"
	StateAborted       State = "ABORTED"
)

// Coordinator runs one cooldown at a time. Wait blocks for the whole
// cooldown, so it must only be called from a goroutine that may block.
type Coordinator struct {
	printer      printer.Printer
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	state   State
	highest float64
}

// New creates a Coordinator. A non-positive pollInterval uses DefaultPollInterval.
func New(p printer.Printer, pollInterval time.Duration, logger *slog.Logger) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		printer:      p,
		pollInterval: pollInterval,
		logger:       logger.With("component", "cooldown"),
		state:        StateIdle,
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Highest returns the hottest tool temperature seen on the last poll.
func (c *Coordinator) Highest() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highest
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Wait commands every heater with a non-zero target to zero, then polls
// until every tool heater is at or below threshold. Heaters that could not
// be commanded, because the targets were unreadable or the command failed,
// are retried on the next poll. Wait returns false as soon as ctx is
// cancelled, which is how new activity aborts a cooldown.
func (c *Coordinator) Wait(ctx context.Context, threshold float64) bool {
	c.setState(StateCommandingOff)
	commanded := make(map[string]bool)
	pending := true

	for {
		if ctx.Err() != nil {
			return c.abort()
		}

		snap, err := c.printer.Temperatures(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.abort()
			}
			c.logger.Warn("cannot read temperatures", "error", err)
		} else {
			if pending {
				pending = !c.commandOff(ctx, snap, commanded)
				if ctx.Err() != nil {
					return c.abort()
				}
				if !pending {
					c.setState(StatePolling)
				}
			}

			highest, hot := hottestTools(snap, threshold)
			c.mu.Lock()
			c.highest = highest
			c.mu.Unlock()
			if highest <= threshold {
				c.logger.Info("heaters below safety temperature", "highest", highest, "threshold", threshold)
				c.setState(StateDone)
				return true
			}
			c.logger.Info("waiting for heaters before switching supply off", "heaters", strings.Join(hot, ", "), "highest", highest)
		}

		select {
		case <-ctx.Done():
			return c.abort()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Coordinator) abort() bool {
	c.logger.Info("cooldown aborted")
	c.setState(StateAborted)
	return false
}

// commandOff zeroes every heater in snap with a non-zero target that has
// not yet been commanded this cycle. It reports whether none are left.
func (c *Coordinator) commandOff(ctx context.Context, snap printer.Snapshot, commanded map[string]bool) bool {
	done := true
	for _, id := range sortedIDs(snap) {
		if commanded[id] {
			continue
		}
		target, ok := snap[id].TargetValue()
		if !ok {
			// Heater not present in firmware, or a value we cannot read.
			continue
		}
		if target == 0 {
			c.logger.Debug("heater already off", "heater", id)
			continue
		}
		c.logger.Info("turning off heater", "heater", id, "target", target)
		if err := c.printer.SetHeaterTarget(ctx, id, 0); err != nil {
			c.logger.Error("cannot turn off heater, will retry", "heater", id, "error", err)
			done = false
			continue
		}
		commanded[id] = true
	}
	return done
}

// hottestTools returns the highest numeric tool temperature and the ids
// of tools above threshold. Non-tool heaters such as the bed are ignored.
func hottestTools(snap printer.Snapshot, threshold float64) (float64, []string) {
	var highest float64
	var hot []string
	for _, id := range sortedIDs(snap) {
		if !printer.IsTool(id) {
			continue
		}
		actual, ok := snap[id].ActualValue()
		if !ok {
			continue
		}
		if actual > threshold {
			hot = append(hot, id)
		}
		if actual > highest {
			highest = actual
		}
	}
	return highest, hot
}

func sortedIDs(snap printer.Snapshot) []string {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
