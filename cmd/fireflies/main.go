// Command fireflies flashes a bank of GPIO LEDs like a field of fireflies and
// reports every flash over MQTT, HTTP and Prometheus.
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

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/fireflies/internal/events"
	"github.com/sweeney/fireflies/internal/gpio"
	"github.com/sweeney/fireflies/internal/logic"
	"github.com/sweeney/fireflies/internal/metrics"
	"github.com/sweeney/fireflies/internal/mqtt"
	"github.com/sweeney/fireflies/internal/scheduler"
	"github.com/sweeney/fireflies/internal/status"
	"github.com/sweeney/fireflies/internal/web"
)

// sdNotify is swapped out in tests.
var sdNotify = daemon.SdNotify

type config struct {
	chip          string
	pins          []int
	timing        logic.Timing
	sweepInterval time.Duration
	faultPolicy   string
	seed          uint64
	broker        string
	heartbeat     time.Duration
	httpAddr      string
	verbose       bool
	testPattern   bool
}

func parseFlags(args []string) (config, error) {
	var cfg config
	fs := pflag.NewFlagSet("fireflies", pflag.ContinueOnError)
	fs.StringVar(&cfg.chip, "chip", gpio.DefaultChip, "GPIO character device")
	fs.IntSliceVar(&cfg.pins, "pins", gpio.DefaultPins, "BCM pin numbers, one firefly per pin")
	fs.DurationVar(&cfg.timing.Light, "light", logic.DefaultLight, "how long each flash stays lit")
	fs.DurationVar(&cfg.timing.MinDark, "min-dark", logic.DefaultMinDark, "shortest dark interval between flashes")
	fs.DurationVar(&cfg.timing.MaxDark, "max-dark", logic.DefaultMaxDark, "longest dark interval between flashes")
	fs.DurationVar(&cfg.sweepInterval, "sweep-interval", 0, "pause between scheduler sweeps (0 busy-polls)")
	fs.StringVar(&cfg.faultPolicy, "fault-policy", string(scheduler.FaultSkip), `what to do when an LED write fails ("skip" or "abort")`)
	fs.Uint64Var(&cfg.seed, "seed", 0, "random seed (0 seeds from the clock)")
	fs.StringVar(&cfg.broker, "broker", "", "MQTT broker address (empty disables MQTT)")
	fs.DurationVar(&cfg.heartbeat, "heartbeat", 15*time.Minute, "heartbeat interval (0 to disable)")
	fs.StringVar(&cfg.httpAddr, "http", ":8080", "HTTP status address (empty to disable)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every transition")
	fs.BoolVar(&cfg.testPattern, "test-pattern", false, "light each LED once in order, then exit")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	return cfg, nil
}

// validate rejects misconfiguration before any GPIO line is requested.
func (c config) validate() (scheduler.FaultPolicy, error) {
	if err := c.timing.Validate(); err != nil {
		return "", err
	}
	if err := gpio.ValidatePins(c.pins); err != nil {
		return "", err
	}
	if c.heartbeat < 0 {
		return "", fmt.Errorf("heartbeat must not be negative, got %v", c.heartbeat)
	}
	if c.sweepInterval < 0 {
		return "", fmt.Errorf("sweep interval must not be negative, got %v", c.sweepInterval)
	}
	return scheduler.ParseFaultPolicy(c.faultPolicy)
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	policy, err := cfg.validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	bank, err := gpio.NewRealBank(cfg.chip, cfg.pins)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := bank.Close(); err != nil {
			logger.Error("failed to release gpio lines", "error", err)
		}
	}()

	if cfg.testPattern {
		return runTestPattern(bank.Outputs(), cfg.timing.Light, time.Sleep, logger)
	}

	seed := cfg.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	fireflies, err := scheduler.Spawn(logicOutputs(bank.Outputs()), cfg.timing, seed, time.Now())
	if err != nil {
		return fmt.Errorf("spawn fireflies: %w", err)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Chip:            cfg.chip,
		LightMs:         cfg.timing.Light.Milliseconds(),
		MinDarkMs:       cfg.timing.MinDark.Milliseconds(),
		MaxDarkMs:       cfg.timing.MaxDark.Milliseconds(),
		SweepIntervalMs: cfg.sweepInterval.Milliseconds(),
		HeartbeatMs:     cfg.heartbeat.Milliseconds(),
		FaultPolicy:     string(policy),
		Seed:            seed,
		Broker:          cfg.broker,
		HTTPAddr:        cfg.httpAddr,
	})
	for i, pin := range bank.Pins() {
		label := scheduler.Label(i)
		tracker.Register(label, pin)
		metrics.Register(label)
	}
	metrics.Setup(cfg.timing)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	bus := events.New()
	defer bus.Subscribe(tracker.Apply)()
	defer bus.Subscribe(metrics.Observe)()

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.broker, logger)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
		defer bus.Subscribe(func(ev logic.Event) {
			tracker.SetMQTTConnected(p.IsConnected())
			if err := p.Publish(ev); errors.Is(err, mqtt.ErrBuffered) {
				logger.Debug("event buffered while broker offline", "firefly", ev.Label, "event", ev.Type)
			} else if err != nil {
				logger.Warn("publish error", "firefly", ev.Label, "event", ev.Type, "error", err)
			}
		})()
	} else {
		logger.Info("mqtt disabled")
	}

	sched := scheduler.New(fireflies, time.Now,
		scheduler.WithFaultPolicy(policy),
		scheduler.WithSink(bus),
		scheduler.WithLogger(logger),
		scheduler.WithSweepInterval(cfg.sweepInterval),
	)

	// Publish startup event with full status snapshot
	if publisher != nil {
		startup := statusEvent(tracker, mqttStatus, "STARTUP", "")
		logSystemPublish(logger, startup, publisher.PublishSystem(startup))
	}

	if ok, err := sdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify ready failed", "error", err)
	} else if ok {
		logger.Debug("notified systemd")
	}

	logger.Info("started",
		"fireflies", len(fireflies),
		"chip", cfg.chip,
		"pins", bank.Pins(),
		"light", cfg.timing.Light,
		"dark_min", cfg.timing.MinDark,
		"dark_max", cfg.timing.MaxDark,
		"fault_policy", policy,
		"seed", seed)

	var heartbeat <-chan time.Time
	if cfg.heartbeat > 0 {
		ticker := time.NewTicker(cfg.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return runLoop(ctx, sched, publisher, mqttStatus, tracker, bus, time.Now, heartbeat, sigCh, logger)
	})

	// Start HTTP status server
	if cfg.httpAddr != "" {
		srv := web.New(cfg.httpAddr, tracker, metrics.Handler())
		g.Go(func() error {
			logger.Info("http status server listening", "addr", cfg.httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				// The fireflies keep flashing without the status page.
				logger.Error("http server error", "error", err)
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

	return g.Wait()
}

// drainTimeout bounds the wait for observers to catch up before SHUTDOWN.
const drainTimeout = 2 * time.Second

// drainer waits for emitted events to reach every observer.
type drainer interface {
	Drain(ctx context.Context) error
}

// runLoop runs the scheduler on its own goroutine until a signal arrives, the
// scheduler gives up, or ctx is cancelled. It then darkens every firefly,
// waits for bus to deliver the final events and publishes SHUTDOWN.
// publisher and mqttStatus may be nil when MQTT is disabled; bus may be nil
// when events reach the tracker synchronously.
func runLoop(ctx context.Context, sched *scheduler.Scheduler, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, bus drainer, now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal, logger *slog.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(runCtx) }()

	var reason string
	var runErr error
	for reason == "" {
		select {
		case s := <-sig:
			reason = signalName(s)
			logger.Info("received signal, shutting down", "signal", s)

		case err := <-done:
			done = nil
			if ctx.Err() != nil {
				reason = "CANCELLED"
			} else {
				reason = "FAULT"
				runErr = err
				logger.Error("scheduler stopped", "error", err)
			}

		case <-ctx.Done():
			reason = "CANCELLED"

		case <-heartbeat:
			snap := tracker.Snapshot()
			logger.Info("heartbeat",
				"uptime", snap.Uptime().Truncate(time.Second),
				"lit", snap.Lit(),
				"faulted", snap.Faulted(),
				"light_on", snap.Counts.LightOn,
				"light_off", snap.Counts.LightOff)
			if publisher == nil {
				continue
			}
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			ev := statusEvent(tracker, mqttStatus, "HEARTBEAT", "")
			ev.Timestamp = now()
			if err := publisher.PublishSystem(ev); errors.Is(err, mqtt.ErrBuffered) {
				logger.Debug("heartbeat buffered while broker offline")
			} else if err != nil {
				logger.Warn("heartbeat publish error", "error", err)
			}
		}
	}

	if _, err := sdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.Warn("sd_notify stopping failed", "error", err)
	}

	cancel()
	if done != nil {
		<-done
	}
	if err := sched.Shutdown(); err != nil {
		logger.Error("failed to darken fireflies", "error", err)
	}
	if bus != nil {
		drainCtx, done := context.WithTimeout(context.Background(), drainTimeout)
		if err := bus.Drain(drainCtx); err != nil {
			logger.Warn("observers did not catch up before shutdown", "error", err)
		}
		done()
	}

	if publisher != nil {
		ev := statusEvent(tracker, mqttStatus, "SHUTDOWN", reason)
		ev.Timestamp = now()
		logSystemPublish(logger, ev, publisher.PublishSystem(ev))
	}

	return runErr
}

// logSystemPublish reports the outcome of publishing a STARTUP or SHUTDOWN
// event. A buffered event is only sent if the broker comes back before exit.
func logSystemPublish(logger *slog.Logger, ev mqtt.SystemEvent, err error) {
	switch {
	case errors.Is(err, mqtt.ErrBuffered):
		logger.Warn("broker offline, system event buffered", "event", ev.Event, "reason", ev.Reason)
	case err != nil:
		logger.Warn("failed to publish system event", "event", ev.Event, "error", err)
	default:
		logger.Info("published system event", "event", ev.Event, "reason", ev.Reason)
	}
}

// statusEvent builds a system event carrying a full status snapshot.
// STARTUP and SHUTDOWN are retained so late subscribers see the last state.
func statusEvent(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus, event, reason string) mqtt.SystemEvent {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	snap := tracker.Snapshot()
	return mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
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

// runTestPattern lights each output once, in order, for the light duration.
func runTestPattern(outs []gpio.Output, light time.Duration, sleep func(time.Duration), logger *slog.Logger) error {
	for i, out := range outs {
		label := scheduler.Label(i)
		logger.Info("test pattern", "firefly", label)
		if err := out.Set(true); err != nil {
			return fmt.Errorf("%s: light: %w", label, err)
		}
		sleep(light)
		if err := out.Set(false); err != nil {
			return fmt.Errorf("%s: darken: %w", label, err)
		}
	}
	return nil
}

func logicOutputs(outs []gpio.Output) []logic.Output {
	converted := make([]logic.Output, len(outs))
	for i, o := range outs {
		converted[i] = o
	}
	return converted
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
