// Package config loads and saves the daemon's configuration aggregate.
//
// The aggregate is read through viper (YAML file, PSUOFF_ environment
// variables, bound flags), validated into a Config value, and replaced as a
// whole whenever the file changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/sweeney/psu-off/internal/gpio"
	"github.com/sweeney/psu-off/internal/host"
	"github.com/sweeney/psu-off/internal/pinmap"
	"github.com/sweeney/psu-off/internal/printer"
)

// Version is the settings schema version written by Save.
const Version = 3

// EnvPrefix prefixes environment overrides, e.g. PSUOFF_IDLE_ENABLED.
const EnvPrefix = "PSUOFF"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the validated configuration aggregate.
type Config struct {
	Version int

	GPIO GPIO

	// PowerOffWarning asks UIs to confirm before a manual power off.
	PowerOffWarning bool

	Idle Idle

	PrinterURL string

	MQTT MQTT
	HTTP HTTP

	ShutdownMethod  host.Method
	ShutdownCommand string

	Heartbeat time.Duration
}

// GPIO selects the relay line.
type GPIO struct {
	Mode     pinmap.Mode
	Pin      int
	Invert   bool
	Chip     string
	Revision pinmap.Revision // 0 means detect
}

// Idle configures idle power-off.
type Idle struct {
	Enabled        bool
	Timeout        time.Duration
	IgnoreCommands []string
	SafetyTemp     float64
	PollInterval   time.Duration
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker        string // empty disables MQTT
	ActivityTopic string
	TopicPrefix   string
}

// HTTP configures the status server and power API.
type HTTP struct {
	Addr   string // empty disables the server
	APIKey string // empty allows every caller
}

// Ignored reports whether code is in the ignore list.
func (i Idle) Ignored(code string) bool {
	for _, c := range i.IgnoreCommands {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// PinConfig returns the relay pin settings.
func (g GPIO) PinConfig() gpio.PinConfig {
	return gpio.PinConfig{Mode: g.Mode, Pin: g.Pin, Invert: g.Invert}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Version: Version,
		GPIO: GPIO{
			Mode: pinmap.ModePhysical,
			Chip: gpio.DefaultChip,
		},
		PowerOffWarning: true,
		Idle: Idle{
			Timeout:        30 * time.Minute,
			IgnoreCommands: []string{"M105"},
			SafetyTemp:     50,
			PollInterval:   5 * time.Second,
		},
		PrinterURL: printer.DefaultURL,
		MQTT: MQTT{
			ActivityTopic: "octoprint/gcode/queued",
			TopicPrefix:   "printer/psu",
		},
		HTTP:            HTTP{Addr: ":8080"},
		ShutdownMethod:  host.MethodCommand,
		ShutdownCommand: host.DefaultCommand,
		Heartbeat:       15 * time.Minute,
	}
}

// SetDefaults registers Default() with v.
func SetDefaults(v *viper.Viper) {
	d := toDocument(Default())
	v.SetDefault("settings_version", 0)
	v.SetDefault("gpio.mode", d.GPIO.Mode)
	v.SetDefault("gpio.pin", d.GPIO.Pin)
	v.SetDefault("gpio.invert", d.GPIO.Invert)
	v.SetDefault("gpio.chip", d.GPIO.Chip)
	v.SetDefault("gpio.revision", d.GPIO.Revision)
	v.SetDefault("power_off_warning", d.PowerOffWarning)
	v.SetDefault("idle.enabled", d.Idle.Enabled)
	v.SetDefault("idle.timeout_minutes", d.Idle.TimeoutMinutes)
	v.SetDefault("idle.ignore_commands", d.Idle.IgnoreCommands)
	v.SetDefault("idle.safety_temp", d.Idle.SafetyTemp)
	v.SetDefault("idle.poll_interval", d.Idle.PollInterval)
	v.SetDefault("printer.url", d.Printer.URL)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.activity_topic", d.MQTT.ActivityTopic)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.api_key", d.HTTP.APIKey)
	v.SetDefault("shutdown.method", d.Shutdown.Method)
	v.SetDefault("shutdown.command", d.Shutdown.Command)
	v.SetDefault("heartbeat", d.Heartbeat)
}

// Load builds a validated Config from v. Files written before the
// current schema version are stamped with Version; no fields are
// transformed.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	mode, err := pinmap.ParseMode(v.GetString("gpio.mode"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: gpio.mode: %v", ErrInvalid, err)
	}

	cfg := Config{
		Version: v.GetInt("settings_version"),
		GPIO: GPIO{
			Mode:     mode,
			Pin:      v.GetInt("gpio.pin"),
			Invert:   v.GetBool("gpio.invert"),
			Chip:     v.GetString("gpio.chip"),
			Revision: pinmap.Revision(v.GetInt("gpio.revision")),
		},
		PowerOffWarning: v.GetBool("power_off_warning"),
		Idle: Idle{
			Enabled:        v.GetBool("idle.enabled"),
			Timeout:        time.Duration(v.GetInt("idle.timeout_minutes")) * time.Minute,
			IgnoreCommands: commandList(v.Get("idle.ignore_commands")),
			SafetyTemp:     v.GetFloat64("idle.safety_temp"),
			PollInterval:   v.GetDuration("idle.poll_interval"),
		},
		PrinterURL: v.GetString("printer.url"),
		MQTT: MQTT{
			Broker:        v.GetString("mqtt.broker"),
			ActivityTopic: v.GetString("mqtt.activity_topic"),
			TopicPrefix:   strings.TrimSuffix(v.GetString("mqtt.topic_prefix"), "/"),
		},
		HTTP: HTTP{
			Addr:   v.GetString("http.addr"),
			APIKey: v.GetString("http.api_key"),
		},
		ShutdownMethod:  host.Method(strings.ToLower(v.GetString("shutdown.method"))),
		ShutdownCommand: v.GetString("shutdown.command"),
		Heartbeat:       v.GetDuration("heartbeat"),
	}

	if cfg.Version < Version {
		cfg.Version = Version
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.GPIO.Pin < 0 {
		errs = append(errs, fmt.Errorf("gpio.pin must not be negative, got %d", c.GPIO.Pin))
	}
	if c.GPIO.Revision < 0 || c.GPIO.Revision > pinmap.Rev3 {
		errs = append(errs, fmt.Errorf("gpio.revision must be 0-3, got %d", c.GPIO.Revision))
	}
	if c.Idle.Enabled && c.Idle.Timeout < time.Minute {
		errs = append(errs, fmt.Errorf("idle.timeout_minutes must be at least 1 when idle power off is enabled"))
	}
	if c.Idle.SafetyTemp < 0 {
		errs = append(errs, fmt.Errorf("idle.safety_temp must not be negative"))
	}
	if c.Idle.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("idle.poll_interval must not be negative"))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative"))
	}
	switch c.ShutdownMethod {
	case host.MethodCommand, host.MethodSyscall, host.MethodNone:
	default:
		errs = append(errs, fmt.Errorf("shutdown.method must be command, syscall or none, got %q", c.ShutdownMethod))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// commandList accepts a YAML list or a comma-separated string.
func commandList(v any) []string {
	var raw []string
	switch vals := v.(type) {
	case string:
		raw = strings.Split(vals, ",")
	case []string:
		raw = vals
	case []any:
		for _, x := range vals {
			raw = append(raw, fmt.Sprint(x))
		}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
