// Package status provides a thread-safe status tracker for the psu-off daemon.
// It is read by HTTP handlers and heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/psu-off/internal/power"
)

// Info is static daemon configuration for display.
type Info struct {
	Version    string
	Broker     string // empty when MQTT is disabled
	PrinterURL string
	HTTPAddr   string
	Heartbeat  time.Duration
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Power            power.Snapshot
	Updated          bool // false until the first Update
	StartTime        time.Time
	Now              time.Time
	MQTTConnected    bool
	PrinterConnected bool
	Info             Info
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and info.
func NewTracker(startTime time.Time, info Info) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Info:      info,
		},
	}
}

// Update stores the controller's latest snapshot.
// Called from the serve loop on every tick and after each power event.
func (t *Tracker) Update(p power.Snapshot) {
	t.mu.Lock()
	t.snap.Power = p
	t.snap.Updated = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetPrinterConnected sets the printer connection status.
func (t *Tracker) SetPrinterConnected(connected bool) {
	t.mu.Lock()
	t.snap.PrinterConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
