// Package power orchestrates idle detection, heater cooldown, relay
// switching and host shutdown.
package power

import "time"

// State is the observable power-supply state.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// EventType names a power lifecycle event.
type EventType string

const (
	EventIdleTimeout     EventType = "IDLE_TIMEOUT"
	EventCooldownAborted EventType = "COOLDOWN_ABORTED"
	EventPowerOff        EventType = "POWER_OFF"
)

// Reason says why the supply was switched off.
type Reason string

const (
	ReasonIdle   Reason = "idle"
	ReasonForced Reason = "forced"
)

// Event is published on every step of a power-off cycle.
type Event struct {
	Timestamp time.Time
	Type      EventType
	State     State
	Reason    Reason
	Cycle     string  // shared by every event of one idle power-off attempt
	ToolTemp  float64 // hottest tool at the time of the event, if known
}

// EventSink receives power events. Errors are logged, never fatal.
type EventSink interface {
	Publish(event Event) error
}
