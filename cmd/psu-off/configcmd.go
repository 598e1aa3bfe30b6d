package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/sweeney/psu-off/internal/config"
)

// defaultConfigPath is written by "config init" when --config is not given.
const defaultConfigPath = "/etc/psu-off/psu-off.yaml"

func newConfigCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default settings",
		Long: `Write the default configuration, merged with any PSUOFF_ environment
overrides, to --config (default /etc/psu-off/psu-off.yaml).`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{configOptional: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.cfgFile
			if path == "" {
				path = defaultConfigPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg, err := o.load()
			if err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
