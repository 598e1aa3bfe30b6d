package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/sweeney/psu-off/internal/config"
	"github.com/sweeney/psu-off/internal/gpio"
	"github.com/sweeney/psu-off/internal/host"
	"github.com/sweeney/psu-off/internal/pinmap"
	"github.com/sweeney/psu-off/internal/power"
	"github.com/sweeney/psu-off/internal/web"
)

func newOffCmd(o *options) *cobra.Command {
	var (
		yes        bool
		noShutdown bool
		local      bool
	)
	cmd := &cobra.Command{
		Use:   "off",
		Short: "Switch the supply off now and shut the host down",
		Long: `Switch the supply off immediately, without waiting for idle or cooldown.

If a daemon is serving the power API on http.addr the request is sent
there; otherwise the relay line is driven directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			if cfg.PowerOffWarning && !yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Switch the printer supply off and shut this host down?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			if !local && !noShutdown && cfg.HTTP.Addr != "" {
				err := requestOff(cmd.Context(), apiURL(cfg.HTTP.Addr), cfg.HTTP.APIKey)
				if err == nil {
					o.logger.Info("power off requested from running daemon")
					return nil
				}
				if !isConnRefused(err) {
					return err
				}
				o.logger.Debug("no daemon listening, switching relay directly", "error", err)
			}
			return forceOffLocal(o, cfg, noShutdown)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&noShutdown, "no-shutdown", false, "switch the relay only, keep the host running")
	cmd.Flags().BoolVar(&local, "local", false, "drive the relay directly even if a daemon is running")
	return cmd
}

func forceOffLocal(o *options, cfg config.Config, noShutdown bool) error {
	logger := o.logger
	driver := openDriver(cfg.GPIO.Chip, logger)
	defer driver.Close()

	var shutdowner host.Shutdowner = host.Noop{Logger: logger}
	if !noShutdown {
		var err error
		if shutdowner, err = host.New(cfg.ShutdownMethod, cfg.ShutdownCommand, logger); err != nil {
			return err
		}
	}

	// Idle power off stays disabled, only the relay settings matter here.
	cfg.Idle.Enabled = false
	ctl := power.New(power.Deps{
		Relay:          gpio.NewRelay(driver, logger),
		Host:           shutdowner,
		DetectRevision: func() pinmap.Revision { return detectRevision(logger) },
		Logger:         logger,
	})
	defer ctl.Close()
	ctl.ApplySettings(cfg)
	ctl.ForcePowerOff()
	return nil
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// apiURL turns a listen address into a loopback URL for the power API.
func apiURL(addr string) string {
	h, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/api/psu"
	}
	if h == "" || h == "0.0.0.0" || h == "::" {
		h = "localhost"
	}
	return "http://" + net.JoinHostPort(h, port) + "/api/psu"
}

func requestOff(ctx context.Context, url, apiKey string) error {
	body, err := json.Marshal(web.CommandRequest{Command: web.CommandTurnPSUOff})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(web.APIKeyHeader, apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("power api: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
