package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sweeney/psu-off/internal/config"
)

// configOptional marks commands that run without an existing config file.
const configOptional = "config-optional"

// options is shared by every subcommand.
type options struct {
	cfgFile   string
	logLevel  string
	logFormat string
	logOutput string

	v      *viper.Viper
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "psu-off",
		Short: "Switch an idle 3D printer's power supply off",
		Long: `psu-off watches the commands queued to a 3D printer. When nothing but
ignored commands (M105 by default) has been sent for the idle timeout, it
turns every heater off, waits for the hot ends to cool below the safety
temperature, switches the supply relay off and shuts the host down.

Configuration is read from /etc/psu-off/psu-off.yaml or
~/.config/psu-off/psu-off.yaml unless --config is given. Every key can be
overridden with a PSUOFF_ environment variable, e.g. PSUOFF_IDLE_ENABLED.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.cfgFile, "config", "", "config file (default /etc/psu-off/psu-off.yaml)")
	pf.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&o.logFormat, "log-format", "text", "log format (json, text)")
	pf.StringVar(&o.logOutput, "log-output", "stderr", "log output (stderr, /path/to/file, or /path/to/dir/)")

	root.AddCommand(
		newServeCmd(o),
		newOffCmd(o),
		newPinsCmd(o),
		newConfigCmd(o),
		newVersionCmd(),
	)
	return root
}

// init reads the config file and installs the default logger.
func (o *options) init(cmd *cobra.Command) error {
	o.v = config.NewViper(o.cfgFile)

	pf := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
		"log.output": "log-output",
	} {
		if err := o.v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	// The file may set log options, so read it with a temporary logger first.
	readErr := config.Read(o.v, slog.Default())
	if readErr != nil && !(errors.Is(readErr, fs.ErrNotExist) && cmd.Annotations[configOptional] == "true") {
		return readErr
	}

	logger, err := newLogger(o.v.GetString("log.level"), o.v.GetString("log.format"), o.v.GetString("log.output"), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	o.logger = logger
	if file := o.v.ConfigFileUsed(); file != "" && readErr == nil {
		logger.Debug("using config file", "file", file)
	}
	return nil
}

// load returns the validated configuration.
func (o *options) load() (config.Config, error) {
	return config.Load(o.v)
}
