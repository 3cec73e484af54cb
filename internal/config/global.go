package config

import (
	"fmt"
	"strings"
	"time"
)

// Global configuration defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultZonesDir  = "zones"

	DefaultListenAddr   = ":8080"
	DefaultSyncInterval = 5 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// GlobalConfig holds application-wide settings.
type GlobalConfig struct {
	// Logging configuration
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// MetricsFile is where metrics are written in the Prometheus text format after
	// each run. Empty disables the export.
	MetricsFile string

	// ZonesDir is the directory zone files are looked up in.
	ZonesDir string

	// Serve mode
	ListenAddr   string        // health, metrics and trigger endpoints
	SyncInterval time.Duration // periodic full sync
	PollInterval time.Duration // zone file change polling; 0 disables it
}

// defaultGlobalConfig returns a GlobalConfig with all defaults applied.
func defaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		ZonesDir:  DefaultZonesDir,

		ListenAddr:   DefaultListenAddr,
		SyncInterval: DefaultSyncInterval,
		PollInterval: DefaultPollInterval,
	}
}

// globalFromFile converts the file's global sections, applying defaults.
func globalFromFile(fc *FileConfig) (*GlobalConfig, []string) {
	var errs []string
	cfg := defaultGlobalConfig()

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.LogLevel = strings.ToLower(fc.Logging.Level)
		}
		if fc.Logging.Format != "" {
			cfg.LogFormat = strings.ToLower(fc.Logging.Format)
		}
	}
	if fc.Metrics != nil {
		cfg.MetricsFile = fc.Metrics.Textfile
	}
	if fc.ZonesDir != "" {
		cfg.ZonesDir = fc.ZonesDir
	}
	if fc.Serve != nil {
		if fc.Serve.Listen != "" {
			cfg.ListenAddr = fc.Serve.Listen
		}
		errs = appendDuration(errs, "serve.interval", fc.Serve.Interval, time.Second, &cfg.SyncInterval)
		errs = appendDuration(errs, "serve.poll_interval", fc.Serve.PollInterval, 0, &cfg.PollInterval)
	}

	return cfg, errs
}

// mergeGlobalEnv applies ZONESYNC_* environment overrides to cfg.
// Environment variables always take precedence over file config.
func mergeGlobalEnv(cfg *GlobalConfig) []string {
	var errs []string

	if v := getEnv("ZONESYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getEnv("ZONESYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := getEnv("ZONESYNC_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}
	if v := getEnv("ZONESYNC_ZONES_DIR"); v != "" {
		cfg.ZonesDir = v
	}
	if v := getEnv("ZONESYNC_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	errs = appendDuration(errs, "ZONESYNC_SYNC_INTERVAL", getEnv("ZONESYNC_SYNC_INTERVAL"), time.Second, &cfg.SyncInterval)
	errs = appendDuration(errs, "ZONESYNC_POLL_INTERVAL", getEnv("ZONESYNC_POLL_INTERVAL"), 0, &cfg.PollInterval)
	return errs
}

// appendDuration parses s (Go duration format: 30s, 5m) into dst when set.
// Values below minimum are rejected.
func appendDuration(errs []string, key, s string, minimum time.Duration, dst *time.Duration) []string {
	if s == "" {
		return errs
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return append(errs, fmt.Sprintf("%s: invalid duration %q (use format like 30s, 5m)", key, s))
	case d < minimum:
		return append(errs, fmt.Sprintf("%s: must be at least %s", key, minimum))
	}
	*dst = d
	return errs
}

// validateGlobal returns the problems with cfg's enumerated settings.
func validateGlobal(cfg *GlobalConfig) []string {
	var errs []string

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level: invalid value %q (must be debug, info, warn, or error)", cfg.LogLevel))
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log format: invalid value %q (must be json or text)", cfg.LogFormat))
	}

	return errs
}
