package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/psu-off/internal/config"
	"github.com/sweeney/psu-off/internal/cooldown"
	"github.com/sweeney/psu-off/internal/pinmap"
	"github.com/sweeney/psu-off/internal/power"
)

func testPower() power.Snapshot {
	cfg := config.Default()
	cfg.GPIO.Pin = 11
	cfg.Idle.Enabled = true
	cfg.Idle.Timeout = 30 * time.Minute
	return power.Snapshot{
		State:      power.StateOn,
		Revision:   pinmap.Rev3,
		TimerArmed: true,
		Remaining:  12*time.Minute + 400*time.Millisecond,
		Cooldown:   cooldown.StateIdle,
		Config:     cfg,
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Info{Broker: "tcp://localhost:1883", HTTPAddr: ":8080"})

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Info.HTTPAddr != ":8080" {
		t.Errorf("Info.HTTPAddr: got %q, want %q", snap.Info.HTTPAddr, ":8080")
	}
	if snap.Updated {
		t.Error("expected Updated=false initially")
	}
	if snap.MQTTConnected || snap.PrinterConnected {
		t.Error("expected connections to be down initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Info{})
	tr.Update(testPower())

	snap := tr.Snapshot()
	if !snap.Updated {
		t.Error("expected Updated=true")
	}
	if snap.Power.State != power.StateOn {
		t.Errorf("Power.State: got %q, want ON", snap.Power.State)
	}
	if !snap.Power.TimerArmed {
		t.Error("expected timer armed")
	}
}

func TestSetConnections(t *testing.T) {
	tr := NewTracker(time.Now(), Info{})
	tr.SetMQTTConnected(true)
	tr.SetPrinterConnected(true)

	snap := tr.Snapshot()
	if !snap.MQTTConnected || !snap.PrinterConnected {
		t.Errorf("expected both connected, got mqtt=%v printer=%v", snap.MQTTConnected, snap.PrinterConnected)
	}
}

func TestSnapshotUptime(t *testing.T) {
	tr := NewTracker(time.Now().Add(-90*time.Second), Info{})
	if up := tr.Snapshot().Uptime(); up < 90*time.Second || up > 95*time.Second {
		t.Errorf("unexpected uptime: %v", up)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Power:            testPower(),
		Updated:          true,
		StartTime:        start,
		Now:              start.Add(time.Hour),
		MQTTConnected:    true,
		PrinterConnected: false,
		Info:             Info{Version: "1.2.0", Broker: "tcp://broker:1883", PrinterURL: "ws://pi:7125/websocket", Heartbeat: 15 * time.Minute},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status

	if s.Power != "ON" || !s.IsPoweredOn {
		t.Errorf("power: got %q/%v", s.Power, s.IsPoweredOn)
	}
	if s.Revision != "rev3" {
		t.Errorf("revision: got %q", s.Revision)
	}
	if s.UptimeSeconds != 3600 {
		t.Errorf("uptime: got %d", s.UptimeSeconds)
	}
	if s.GPIO.Mode != "BOARD" || s.GPIO.Pin != 11 {
		t.Errorf("gpio: got %+v", s.GPIO)
	}
	if !s.Idle.Enabled || s.Idle.TimeoutSeconds != 1800 || s.Idle.RemainingSeconds != 720 {
		t.Errorf("idle: got %+v", s.Idle)
	}
	if len(s.Idle.IgnoreCommands) != 1 || s.Idle.IgnoreCommands[0] != "M105" {
		t.Errorf("ignore commands: got %v", s.Idle.IgnoreCommands)
	}
	if s.Cooldown.State != "IDLE" {
		t.Errorf("cooldown: got %+v", s.Cooldown)
	}
	if !s.MQTT.Connected || s.MQTT.URL != "tcp://broker:1883" {
		t.Errorf("mqtt: got %+v", s.MQTT)
	}
	if s.Printer.Connected {
		t.Error("printer should be disconnected")
	}
	if s.HeartbeatSecs != 900 {
		t.Errorf("heartbeat: got %d", s.HeartbeatSecs)
	}
	if s.LastActivity != nil {
		t.Error("last_activity should be omitted before any activity")
	}
	if s.Event != "" || s.Reason != "" {
		t.Error("web status should not carry event or reason")
	}
}

func TestFormatJSONBeforeFirstUpdate(t *testing.T) {
	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(Snapshot{Now: time.Now(), StartTime: time.Now()}), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Power != "UNKNOWN" || parsed.Status.IsPoweredOn {
		t.Errorf("expected UNKNOWN, got %q", parsed.Status.Power)
	}
	if parsed.Status.Idle.IgnoreCommands == nil {
		t.Error("ignore_commands should be an empty list, not null")
	}
}

func TestFormatJSONLastActivity(t *testing.T) {
	p := testPower()
	p.LastCommand = "G1"
	p.LastActivity = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(Snapshot{Power: p, Updated: true}), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	a := parsed.Status.LastActivity
	if a == nil || a.Command != "G1" || a.Time != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected last activity: %+v", a)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{Power: testPower(), Updated: true, StartTime: time.Now(), Now: time.Now()}
	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	if strings.Contains(string(data), "\n") {
		t.Error("status event should be compact JSON")
	}
	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("unexpected event/reason: %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(Snapshot{Power: testPower(), Updated: true}, "STARTUP", "")
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["status"]["reason"]; ok {
		t.Error("reason should be omitted")
	}
	if raw["status"]["event"] != "STARTUP" {
		t.Errorf("unexpected event: %v", raw["status"]["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Info{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(testPower())
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetPrinterConnected(i%3 == 0)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = FormatJSON(tr.Snapshot())
		}
	}()

	wg.Wait()
}
