package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// document is the on-disk layout.
type document struct {
	SettingsVersion int         `yaml:"settings_version"`
	GPIO            gpioDoc     `yaml:"gpio"`
	PowerOffWarning bool        `yaml:"power_off_warning"`
	Idle            idleDoc     `yaml:"idle"`
	Printer         printerDoc  `yaml:"printer"`
	MQTT            mqttDoc     `yaml:"mqtt"`
	HTTP            httpDoc     `yaml:"http"`
	Shutdown        shutdownDoc `yaml:"shutdown"`
	Heartbeat       string      `yaml:"heartbeat"`
}

type printerDoc struct {
	URL string `yaml:"url"`
}

type mqttDoc struct {
	Broker        string `yaml:"broker"`
	ActivityTopic string `yaml:"activity_topic"`
	TopicPrefix   string `yaml:"topic_prefix"`
}

type httpDoc struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

type shutdownDoc struct {
	Method  string `yaml:"method"`
	Command string `yaml:"command"`
}

type gpioDoc struct {
	Mode     string `yaml:"mode"`
	Pin      int    `yaml:"pin"`
	Invert   bool   `yaml:"invert"`
	Chip     string `yaml:"chip"`
	Revision int    `yaml:"revision"`
}

type idleDoc struct {
	Enabled        bool     `yaml:"enabled"`
	TimeoutMinutes int      `yaml:"timeout_minutes"`
	IgnoreCommands []string `yaml:"ignore_commands"`
	SafetyTemp     float64  `yaml:"safety_temp"`
	PollInterval   string   `yaml:"poll_interval"`
}

func toDocument(c Config) document {
	var d document
	d.SettingsVersion = c.Version
	d.GPIO = gpioDoc{
		Mode:     string(c.GPIO.Mode),
		Pin:      c.GPIO.Pin,
		Invert:   c.GPIO.Invert,
		Chip:     c.GPIO.Chip,
		Revision: int(c.GPIO.Revision),
	}
	d.PowerOffWarning = c.PowerOffWarning
	d.Idle = idleDoc{
		Enabled:        c.Idle.Enabled,
		TimeoutMinutes: int(c.Idle.Timeout / time.Minute),
		IgnoreCommands: append([]string(nil), c.Idle.IgnoreCommands...),
		SafetyTemp:     c.Idle.SafetyTemp,
		PollInterval:   c.Idle.PollInterval.String(),
	}
	d.Printer.URL = c.PrinterURL
	d.MQTT.Broker = c.MQTT.Broker
	d.MQTT.ActivityTopic = c.MQTT.ActivityTopic
	d.MQTT.TopicPrefix = c.MQTT.TopicPrefix
	d.HTTP.Addr = c.HTTP.Addr
	d.HTTP.APIKey = c.HTTP.APIKey
	d.Shutdown.Method = string(c.ShutdownMethod)
	d.Shutdown.Command = c.ShutdownCommand
	d.Heartbeat = c.Heartbeat.String()
	return d
}

// Save writes c to path as YAML, stamped with the current Version.
func Save(path string, c Config) error {
	c.Version = Version
	data, err := yaml.Marshal(toDocument(c))
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}

// NewViper returns a viper instance reading path (if not empty) and
// PSUOFF_* environment variables.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("psu-off")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/psu-off")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "psu-off"))
		}
	}
	SetDefaults(v)
	return v
}

// Read loads the config file into v. A missing file is not an error
// when no explicit path was given.
func Read(v *viper.Viper, logger *slog.Logger) error {
	err := v.ReadInConfig()
	if err == nil {
		logger.Debug("using config file", "file", v.ConfigFileUsed())
		if ver := v.GetInt("settings_version"); ver < Version {
			logger.Info("settings schema stamped", "from", ver, "to", Version)
		}
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		logger.Info("no config file found, using defaults")
		return nil
	}
	return fmt.Errorf("config: read: %w", err)
}

// Watch reloads the whole configuration when the file changes and hands
// valid results to apply. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *slog.Logger, apply func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(v)
		if err != nil {
			logger.Error("ignoring invalid settings", "file", e.Name, "error", err)
			return
		}
		logger.Info("settings reloaded", "file", e.Name)
		apply(cfg)
	})
	v.WatchConfig()
}
