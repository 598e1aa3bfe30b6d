// Package mqtt publishes power and system events and delivers the printer's
// command stream, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/psu-off/internal/power"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "printer/psu"

// EventsTopic is where power events are published.
func EventsTopic(prefix string) string {
	return topic(prefix, "events")
}

// SystemTopic is where system lifecycle events are published.
func SystemTopic(prefix string) string {
	return topic(prefix, "system")
}

func topic(prefix, leaf string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + leaf
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a power event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event power.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Handler receives one message payload from a subscription.
type Handler func(payload []byte)

// Subscriber delivers messages from a topic.
type Subscriber interface {
	Subscribe(topic string, handler Handler) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a system lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. SIGTERM, MQTT_DISCONNECT
	RawPayload []byte // pre-formatted status snapshot; returned as is by FormatSystemPayload
	Retained   bool
}

// Payload is the MQTT message for a power event.
type Payload struct {
	PSU PSUPayload `json:"psu"`
}

// PSUPayload contains the power event details.
type PSUPayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	State     string  `json:"state"`
	Reason    string  `json:"reason,omitempty"`
	Cycle     string  `json:"cycle,omitempty"`
	ToolTemp  float64 `json:"tool_temp,omitempty"`
}

// FormatPayload creates the JSON payload for a power event.
func FormatPayload(event power.Event) ([]byte, error) {
	return json.Marshal(Payload{
		PSU: PSUPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			State:     string(event.State),
			Reason:    string(event.Reason),
			Cycle:     event.Cycle,
			ToolTemp:  event.ToolTemp,
		},
	})
}

// SystemPayload is the message for simple system events (LWT, RECONNECTED)
// that carry no status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
