package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"indicator-service/internal/clock"
	"indicator-service/internal/command"
	"indicator-service/internal/config"
	"indicator-service/internal/core"
	"indicator-service/internal/hardware"
	"indicator-service/internal/link"
	"indicator-service/internal/logger"
	"indicator-service/internal/messaging"
	"indicator-service/internal/metrics"
	"indicator-service/internal/surface"
	"indicator-service/internal/web"
)

var version = "dev"

func main() {
	cmd := &cobra.Command{
		Use:           "indicator-service",
		Short:         "Rotating indicator controller with button stop and peer link",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(cmd.Flags())
			if err != nil {
				return err
			}
			run(cfg)
			return nil
		},
	}
	config.BindFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		logger.NewStdLogger(logger.LogLevelError).Fatalf("%v", err)
	}
}

func run(cfg config.Config) {
	l := logger.NewStdLogger(cfg.LogLevel())
	l.Infof("Starting indicator service %s...", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	adapter := surface.New(surface.DefaultQueueSize, l.WithTag("surface"), m)

	var io core.HardwareIO
	if cfg.GPIO.Enabled {
		io = hardware.NewLinuxHardwareIO(hardware.Config{
			Chip:       cfg.GPIO.Chip,
			LedLines:   cfg.GPIO.LedLines,
			ButtonLine: cfg.GPIO.ButtonLine,
			ActiveLow:  cfg.GPIO.ActiveLow,
			Debounce:   cfg.GPIO.KernelDebounce.Duration,
		}, l.WithTag("gpio"))
	} else {
		io = hardware.NewNoopIO(l.WithTag("gpio"))
	}

	var peer command.ByteLink = link.Null{}
	if cfg.Serial.Device != "" {
		pl, err := link.New(link.Config{
			Device:     cfg.Serial.Device,
			BaudRate:   cfg.Serial.BaudRate,
			RetryDelay: cfg.Serial.RetryDelay.Duration,
		}, link.SerialOpener, l.WithTag("link"), m)
		if err != nil {
			l.Fatalf("Failed to create peer link: %v", err)
		}
		if err := pl.Start(ctx); err != nil {
			l.Fatalf("Failed to start peer link: %v", err)
		}
		defer pl.Close()
		peer = pl
	} else {
		l.Warnf("No serial device configured, peer link disabled")
	}

	system := core.NewSystem(core.Options{
		StopDuration:     cfg.Timing.StopDuration.Duration,
		RotationInterval: cfg.Timing.RotationInterval.Duration,
		DebounceWindow:   cfg.Timing.DebounceWindow.Duration,
		PollInterval:     cfg.Timing.PollInterval.Duration,
	}, io, peer, adapter, clock.Monotonic{}, m, l.WithTag("core"))

	if cfg.Redis.Addr != "" {
		redis := messaging.NewRedisClient(cfg.Redis.Addr, l.WithTag("redis"), adapter)
		if err := redis.Connect(); err != nil {
			l.Fatalf("Failed to connect to Redis: %v", err)
		}
		if err := redis.StartListening(); err != nil {
			l.Fatalf("Failed to start Redis listeners: %v", err)
		}
		defer redis.Close()
		system.AddPublisher(redis)
	}

	var server *web.Server
	if cfg.HTTP.Addr != "" {
		hub := web.NewHub(adapter, l.WithTag("ws"), m)
		system.AddPublisher(hub)
		server = web.NewServer(cfg.HTTP.Addr, adapter, hub, m, l.WithTag("http"))
		if err := server.Start(); err != nil {
			l.Fatalf("Failed to start HTTP server: %v", err)
		}
	}

	if err := system.Start(); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		system.Run(ctx)
	}()

	l.Infof("System started successfully")
	notify(l, daemon.SdNotifyReady)
	go watchdog(ctx, system, l)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	notify(l, daemon.SdNotifyStopping)

	cancel()
	<-loopDone

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			l.Warnf("HTTP shutdown: %v", err)
		}
		shutdownCancel()
	}
	system.Shutdown()
	l.Infof("Shutdown complete")
}

func notify(l *logger.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		l.Warnf("sd_notify %q failed: %v", state, err)
	}
}

// watchdog pings systemd at half the configured interval, but only while
// the poll loop keeps completing iterations.
func watchdog(ctx context.Context, system *core.System, l *logger.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if since := time.Since(system.Heartbeat()); since > interval/2 {
				l.Warnf("Poll loop stalled for %v, withholding watchdog ping", since)
				continue
			}
			notify(l, daemon.SdNotifyWatchdog)
		}
	}
}
