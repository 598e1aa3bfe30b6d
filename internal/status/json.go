package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event           string        `json:"event,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Version         string        `json:"version,omitempty"`
	Power           string        `json:"power"`
	IsPoweredOn     bool          `json:"is_powered_on"`
	PowerOffWarning bool          `json:"power_off_warning"`
	Revision        string        `json:"revision"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	StartTime       string        `json:"start_time"`
	Timestamp       string        `json:"timestamp"`
	GPIO            GPIOJSON      `json:"gpio"`
	Idle            IdleJSON      `json:"idle"`
	Cooldown        CooldownJSON  `json:"cooldown"`
	LastActivity    *ActivityJSON `json:"last_activity,omitempty"`
	MQTT            LinkJSON      `json:"mqtt"`
	Printer         LinkJSON      `json:"printer"`
	HeartbeatSecs   int64         `json:"heartbeat_seconds"`
}

// GPIOJSON describes the relay line.
type GPIOJSON struct {
	Mode   string `json:"mode"`
	Pin    int    `json:"pin"`
	Invert bool   `json:"invert"`
}

// IdleJSON describes idle power-off.
type IdleJSON struct {
	Enabled          bool     `json:"enabled"`
	TimeoutSeconds   int64    `json:"timeout_seconds"`
	Armed            bool     `json:"armed"`
	RemainingSeconds int64    `json:"remaining_seconds"`
	IgnoreCommands   []string `json:"ignore_commands"`
	SafetyTemp       float64  `json:"safety_temp"`
}

// CooldownJSON describes the heater wait.
type CooldownJSON struct {
	State    string  `json:"state"`
	Waiting  bool    `json:"waiting"`
	ToolTemp float64 `json:"tool_temp"`
}

// ActivityJSON is the last command that reset the idle timer.
type ActivityJSON struct {
	Command string `json:"command"`
	Time    string `json:"time"`
}

// LinkJSON reports a collaborator connection.
type LinkJSON struct {
	Connected bool   `json:"connected"`
	URL       string `json:"url,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	p := snap.Power
	cfg := p.Config

	state := string(p.State)
	if !snap.Updated || state == "" {
		state = "UNKNOWN"
	}
	ignore := cfg.Idle.IgnoreCommands
	if ignore == nil {
		ignore = []string{}
	}

	inner := StatusInner{
		Version:         snap.Info.Version,
		Power:           state,
		IsPoweredOn:     state == "ON",
		PowerOffWarning: cfg.PowerOffWarning,
		Revision:        p.Revision.String(),
		UptimeSeconds:   int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:       snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:       snap.Now.UTC().Format(time.RFC3339),
		GPIO: GPIOJSON{
			Mode:   string(cfg.GPIO.Mode),
			Pin:    cfg.GPIO.Pin,
			Invert: cfg.GPIO.Invert,
		},
		Idle: IdleJSON{
			Enabled:          cfg.Idle.Enabled,
			TimeoutSeconds:   int64(cfg.Idle.Timeout.Seconds()),
			Armed:            p.TimerArmed,
			RemainingSeconds: int64(p.Remaining.Round(time.Second).Seconds()),
			IgnoreCommands:   ignore,
			SafetyTemp:       cfg.Idle.SafetyTemp,
		},
		Cooldown: CooldownJSON{
			State:    string(p.Cooldown),
			Waiting:  p.Waiting,
			ToolTemp: p.ToolTemp,
		},
		MQTT:          LinkJSON{Connected: snap.MQTTConnected, URL: snap.Info.Broker},
		Printer:       LinkJSON{Connected: snap.PrinterConnected, URL: snap.Info.PrinterURL},
		HeartbeatSecs: int64(snap.Info.Heartbeat.Seconds()),
	}
	if inner.Cooldown.State == "" {
		inner.Cooldown.State = "IDLE"
	}
	if !p.LastActivity.IsZero() {
		inner.LastActivity = &ActivityJSON{
			Command: p.LastCommand,
			Time:    p.LastActivity.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
