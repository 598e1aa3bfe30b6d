package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/sweeney/psu-off/internal/config"
	"github.com/sweeney/psu-off/internal/gcode"
	"github.com/sweeney/psu-off/internal/gpio"
	"github.com/sweeney/psu-off/internal/host"
	"github.com/sweeney/psu-off/internal/mqtt"
	"github.com/sweeney/psu-off/internal/pinmap"
	"github.com/sweeney/psu-off/internal/power"
	"github.com/sweeney/psu-off/internal/printer"
	"github.com/sweeney/psu-off/internal/status"
	"github.com/sweeney/psu-off/internal/web"
	"golang.org/x/sync/errgroup"
)

// refreshInterval is how often the status tracker is refreshed.
const refreshInterval = time.Second

func newServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the idle power-off daemon",
		Long: `Run the daemon: listen for printer activity on MQTT, count down the idle
timeout, cool the hot ends, switch the supply relay off and shut the host
down. Serves a status page and the power API on http.addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), o, cfg)
		},
	}
}

// openDriver opens the GPIO chip. Without one the daemon still runs and
// shuts the host down, it just cannot switch the relay.
func openDriver(chip string, logger *slog.Logger) gpio.Driver {
	d, err := gpio.NewChipDriver(chip)
	if err != nil {
		logger.Warn("gpio unavailable, relay will not be switched", "chip", chip, "error", err)
		return gpio.Unavailable{}
	}
	return d
}

// detectRevision reads the board revision, falling back to the 40-pin layout.
func detectRevision(logger *slog.Logger) pinmap.Revision {
	rev, err := pinmap.DetectRevision(pinmap.CPUInfoPath)
	if err != nil {
		logger.Warn("cannot detect board revision, assuming 40-pin header", "error", err)
		return pinmap.Rev3
	}
	logger.Info("detected board revision", "revision", rev)
	return rev
}

// trackingSink forwards power events and refreshes the status tracker so
// the web page never lags behind a state change.
type trackingSink struct {
	next    power.EventSink
	refresh func()
}

func (s trackingSink) Publish(e power.Event) error {
	defer s.refresh()
	if s.next == nil {
		return nil
	}
	return s.next.Publish(e)
}

func serve(parent context.Context, o *options, cfg config.Config) error {
	logger := o.logger

	driver := openDriver(cfg.GPIO.Chip, logger)
	defer driver.Close()

	shutdowner, err := host.New(cfg.ShutdownMethod, cfg.ShutdownCommand, logger)
	if err != nil {
		return err
	}

	moonraker := printer.NewMoonraker(cfg.PrinterURL, logger)
	defer moonraker.Close()
	connectCtx, cancelConnect := context.WithTimeout(parent, 10*time.Second)
	if err := moonraker.Connect(connectCtx); err != nil {
		logger.Warn("printer not reachable yet, will retry on demand", "url", cfg.PrinterURL, "error", err)
	}
	cancelConnect()

	// Initialize MQTT
	var publisher *mqtt.RealPublisher
	if cfg.MQTT.Broker != "" {
		publisher, err = mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.TopicPrefix, logger)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer publisher.Close()
	} else {
		logger.Info("mqtt disabled, printer activity will not be observed")
	}

	tracker := status.NewTracker(time.Now(), status.Info{
		Version:    version,
		Broker:     cfg.MQTT.Broker,
		PrinterURL: cfg.PrinterURL,
		HTTPAddr:   cfg.HTTP.Addr,
		Heartbeat:  cfg.Heartbeat,
	})

	var ctl *power.Controller
	sink := trackingSink{refresh: func() { tracker.Update(ctl.Snapshot()) }}
	if publisher != nil {
		sink.next = publisher
	}
	ctl = power.New(power.Deps{
		Relay:          gpio.NewRelay(driver, logger),
		Printer:        moonraker,
		Host:           shutdowner,
		Events:         sink,
		DetectRevision: func() pinmap.Revision { return detectRevision(logger) },
		Logger:         logger,
	})
	defer ctl.Close()
	ctl.ApplySettings(cfg)
	tracker.Update(ctl.Snapshot())

	if publisher != nil {
		topic := cfg.MQTT.ActivityTopic
		if err := publisher.Subscribe(topic, func(payload []byte) {
			ctl.OnActivity(gcode.Code(string(payload)))
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		logger.Info("watching printer activity", "topic", topic)
	}

	if o.v.ConfigFileUsed() != "" {
		config.Watch(o.v, logger, ctl.ApplySettings)
	}

	l := &loop{
		power:   ctl,
		tracker: tracker,
		printer: moonraker,
		logger:  logger,
		now:     time.Now,
	}
	if publisher != nil {
		l.publisher = publisher
		l.mqttStatus = publisher
	}
	l.publishSystem("STARTUP", "", true)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Addr != "" {
		srv := web.New(web.Options{
			Addr:    cfg.HTTP.Addr,
			Tracker: tracker,
			Power:   ctl,
			APIKey:  func() string { return ctl.Config().HTTP.APIKey },
			Logger:  logger,
		})
		g.Go(func() error {
			logger.Info("http server listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()
	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	logger.Info("started",
		"version", version,
		"idle_enabled", cfg.Idle.Enabled,
		"timeout", cfg.Idle.Timeout,
		"broker", cfg.MQTT.Broker,
		"printer", cfg.PrinterURL,
		"heartbeat", cfg.Heartbeat,
	)

	g.Go(func() error {
		defer cancel()
		return l.run(ctx, refresh.C, heartbeat, sigCh)
	})
	return g.Wait()
}

// loop refreshes status, publishes heartbeats and handles signals.
type loop struct {
	power      interface{ Snapshot() power.Snapshot }
	tracker    *status.Tracker
	publisher  mqtt.Publisher        // nil when MQTT is disabled
	mqttStatus mqtt.ConnectionStatus // nil when MQTT is disabled
	printer    mqtt.ConnectionStatus
	logger     *slog.Logger
	now        func() time.Time
}

func (l *loop) run(ctx context.Context, tick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-sig:
			l.logger.Info("shutting down", "signal", s)
			l.publishSystem("SHUTDOWN", signalName(s), true)
			return nil

		case <-heartbeat:
			l.logger.Debug("heartbeat")
			l.publishSystem("HEARTBEAT", "", false)

		case <-tick:
			l.refresh()
		}
	}
}

// refresh copies controller and connection state into the tracker.
func (l *loop) refresh() {
	l.tracker.Update(l.power.Snapshot())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	if l.printer != nil {
		l.tracker.SetPrinterConnected(l.printer.IsConnected())
	}
}

func (l *loop) publishSystem(event, reason string, retained bool) {
	l.refresh()
	if l.publisher == nil {
		return
	}
	snap := l.tracker.Snapshot()
	err := l.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		l.logger.Warn("publish system event failed", "event", event, "error", err)
		return
	}
	l.logger.Debug("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
