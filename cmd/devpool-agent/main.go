// Command devpool-agent runs a device-pool manager against the local adb
// server and exposes an interactive console for inspecting and exercising
// the pool.
//
// Usage:
//
//	devpool-agent [flags]
//
// Flags:
//
//	-config <file>        yaml configuration file
//	-adb <path>           adb binary (overrides config)
//	-fastboot <path>      fastboot binary (overrides config)
//	-emulators <n>        emulator slot count (overrides config)
//	-event-log <file>     fleet event capture file (.plog)
//	-log-level <level>    debug, info, warn, error
//
// Examples:
//
//	# Run with defaults against the local adb server
//	devpool-agent
//
//	# Run with a config file and fleet capture
//	devpool-agent -config pool.yaml -event-log fleet.plog
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/devpool-project/devpool-go/pkg/bridge"
	"github.com/devpool-project/devpool-go/pkg/command"
	"github.com/devpool-project/devpool-go/pkg/config"
	"github.com/devpool-project/devpool-go/pkg/device"
	"github.com/devpool-project/devpool-go/pkg/discovery"
	"github.com/devpool-project/devpool-go/pkg/pool"
	"github.com/devpool-project/devpool-go/pkg/poollog"
)

func main() {
	var (
		configPath   = flag.String("config", "", "yaml configuration file")
		adbPath      = flag.String("adb", "", "adb binary (overrides config)")
		fastbootPath = flag.String("fastboot", "", "fastboot binary (overrides config)")
		numEmulators = flag.Int("emulators", -1, "emulator slot count (overrides config)")
		eventLogPath = flag.String("event-log", "", "fleet event capture file (.plog)")
		logLevel     = flag.String("log-level", "info", "debug, info, warn, error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg := &config.Pool{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *adbPath != "" {
		cfg.AdbPath = *adbPath
	}
	if *fastbootPath != "" {
		cfg.FastbootPath = *fastbootPath
	}
	if *numEmulators >= 0 {
		cfg.NumEmulators = *numEmulators
	}
	if *eventLogPath != "" {
		cfg.EventLog = *eventLogPath
	}

	opts := cfg.Options()
	opts.Logger = logger

	var fileLogger *poollog.FileLogger
	if cfg.EventLog != "" {
		var err error
		fileLogger, err = poollog.NewFileLogger(cfg.EventLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open event log: %v\n", err)
			os.Exit(1)
		}
		opts.EventLogger = fileLogger
	}

	runner := command.NewRunner()
	runner.SetLogger(logger)

	mgr := pool.NewManager(opts, runner, bridge.NewAdbBridge(runner, logger))
	if err := mgr.Init(cfg.GlobalSelection.ToSelection()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize device manager: %v\n", err)
		os.Exit(1)
	}
	logger.Info("device manager running",
		"emulator_slots", cfg.NumEmulators, "null_devices", cfg.NumNullDevices)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Discovery.Enabled {
		startDiscovery(ctx, cfg.Discovery, logger)
	}

	console := newConsole(mgr, runner, logger)
	go console.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
		// Console quit command.
	}

	logger.Info("shutting down")
	mgr.Terminate()
	if fileLogger != nil {
		if err := fileLogger.Close(); err != nil {
			logger.Warn("closing event log failed", "err", err)
		}
	}
}

// startDiscovery logs TCP connect candidates as they appear. Attaching
// stays an explicit console operation.
func startDiscovery(ctx context.Context, cfg config.Discovery, logger *slog.Logger) {
	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Interface:    cfg.Interface,
		IncludePlain: cfg.IncludePlain,
	})
	added, removed, err := browser.Browse(ctx)
	if err != nil {
		logger.Warn("mdns discovery unavailable", "err", err)
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-added:
				if !ok {
					return
				}
				logger.Info("tcp device candidate appeared",
					"instance", c.InstanceName, "addr", c.HostPort())
			case c, ok := <-removed:
				if !ok {
					return
				}
				logger.Info("tcp device candidate disappeared",
					"instance", c.InstanceName, "addr", c.HostPort())
			}
		}
	}()
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// describeHandle renders a handle for console output.
func describeHandle(h *device.Handle) string {
	return fmt.Sprintf("%-24s %-14s %s", h.Serial, h.State, h.Kind)
}
