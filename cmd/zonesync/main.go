// zonesync pushes DNS zones described in version-controlled zone files to
// DNS hosting providers. It plans the difference between each zone file and
// the provider's current records, and applies it on request.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"gitlab.bluewillows.net/root/zonesync/internal/config"
	"gitlab.bluewillows.net/root/zonesync/internal/metrics"
	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
	"gitlab.bluewillows.net/root/zonesync/providers/selectel"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-01-03"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.SetBuildInfo(Version, runtime.Version())

	a := newApp(stdout, stderr)
	root := newRootCommand(a)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// app carries state shared by all subcommands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Persistent flags
	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string

	factories map[string]provider.Factory

	cfg      *config.Config
	logger   *slog.Logger
	registry *provider.Registry
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		factories: map[string]provider.Factory{
			selectel.TypeName: selectel.Factory(),
		},
	}
}

// setup loads configuration, configures logging and instantiates providers.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if a.logLevel != "" {
		cfg.Global.LogLevel = strings.ToLower(a.logLevel)
	}
	if a.logFormat != "" {
		cfg.Global.LogFormat = strings.ToLower(a.logFormat)
	}
	if a.metricsFile != "" {
		cfg.Global.MetricsFile = a.metricsFile
	}

	a.cfg = cfg
	a.logger = setupLogger(cfg.Global.LogLevel, cfg.Global.LogFormat, a.stderr)
	slog.SetDefault(a.logger)

	a.registry = provider.NewRegistry(a.logger)
	registerProviderFactories(a.registry, a.factories)

	if err := config.ValidateProviderTypes(cfg, a.registry.Types()); err != nil {
		return err
	}
	if err := createProviderInstances(a.registry, cfg); err != nil {
		return fmt.Errorf("creating provider instances: %w", err)
	}

	a.logger.Debug("configuration loaded",
		slog.String("path", cfg.Path),
		slog.Int("providers", a.registry.Count()),
		slog.Int("zones", len(cfg.Zones)),
	)
	return nil
}

// writeMetrics exports metrics when a textfile path is configured.
func (a *app) writeMetrics() {
	if a.cfg == nil || a.cfg.Global.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.Global.MetricsFile); err != nil {
		a.logger.Warn("failed to write metrics",
			slog.String("path", a.cfg.Global.MetricsFile),
			slog.String("error", err.Error()),
		)
	}
}

func setupLogger(level, format string, w io.Writer) *slog.Logger {
	logLevel := parseLogLevel(level)

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func registerProviderFactories(registry *provider.Registry, factories map[string]provider.Factory) {
	for typeName, factory := range factories {
		registry.RegisterFactory(typeName, factory)
	}
}

func createProviderInstances(registry *provider.Registry, cfg *config.Config) error {
	for _, p := range cfg.Providers {
		if err := registry.CreateInstance(p.Name, p.Type, p.Config); err != nil {
			return fmt.Errorf("creating provider %s: %w", p.Name, err)
		}
	}
	return nil
}
