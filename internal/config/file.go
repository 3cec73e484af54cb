package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the configuration file structure.
// The same structure is read from YAML (.yaml, .yml) and TOML (.toml) files.
type FileConfig struct {
	// Logging configuration
	Logging *FileLoggingConfig `yaml:"logging,omitempty" toml:"logging"`

	// Metrics export
	Metrics *FileMetricsConfig `yaml:"metrics,omitempty" toml:"metrics"`

	// Directory holding zone files, relative to the config file
	ZonesDir string `yaml:"zones_dir,omitempty" toml:"zones_dir"`

	// Serve mode settings
	Serve *FileServeConfig `yaml:"serve,omitempty" toml:"serve"`

	// DNS providers
	Providers []FileProviderConfig `yaml:"providers,omitempty" toml:"providers"`

	// Managed zones
	Zones []FileZoneConfig `yaml:"zones,omitempty" toml:"zones"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" toml:"format"` // json, text
}

// FileMetricsConfig holds metrics export settings.
type FileMetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty" toml:"textfile"` // node_exporter textfile path
}

// FileServeConfig holds settings for the long-running serve command.
type FileServeConfig struct {
	Listen       string `yaml:"listen,omitempty" toml:"listen"`               // e.g. :8080
	Interval     string `yaml:"interval,omitempty" toml:"interval"`           // periodic sync, e.g. 5m
	PollInterval string `yaml:"poll_interval,omitempty" toml:"poll_interval"` // zone file polling, 0s disables
}

// FileProviderConfig holds configuration for a DNS provider instance.
type FileProviderConfig struct {
	// Name is the unique instance name.
	Name string `yaml:"name" toml:"name"`

	// Type is the provider type, e.g. selectel.
	Type string `yaml:"type" toml:"type"`

	// Config holds provider-specific settings.
	Config map[string]any `yaml:"config,omitempty" toml:"config"`
}

// FileZoneConfig holds configuration for one managed zone.
type FileZoneConfig struct {
	// Name is the zone fqdn.
	Name string `yaml:"name" toml:"name"`

	// File is the desired-state zone file.
	File string `yaml:"file,omitempty" toml:"file"`

	// Lenient accepts records that fail validation.
	Lenient bool `yaml:"lenient,omitempty" toml:"lenient"`

	// Targets are provider names; empty means all providers.
	Targets []string `yaml:"targets,omitempty" toml:"targets"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable values.
// Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 3 {
			defaultValue = groups[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// interpolateEnvVars interpolates environment variables in all string fields.
func (c *FileConfig) interpolateEnvVars() {
	if c.Logging != nil {
		c.Logging.Level = InterpolateEnvVars(c.Logging.Level)
		c.Logging.Format = InterpolateEnvVars(c.Logging.Format)
	}

	if c.Metrics != nil {
		c.Metrics.Textfile = InterpolateEnvVars(c.Metrics.Textfile)
	}

	c.ZonesDir = InterpolateEnvVars(c.ZonesDir)

	for i := range c.Providers {
		p := &c.Providers[i]
		p.Name = InterpolateEnvVars(p.Name)
		p.Type = InterpolateEnvVars(p.Type)
		for k, v := range p.Config {
			if s, ok := v.(string); ok {
				p.Config[k] = InterpolateEnvVars(s)
			}
		}
	}

	for i := range c.Zones {
		z := &c.Zones[i]
		z.Name = InterpolateEnvVars(z.Name)
		z.File = InterpolateEnvVars(z.File)
		for j := range z.Targets {
			z.Targets[j] = InterpolateEnvVars(z.Targets[j])
		}
	}
}

// LoadFile reads and parses a configuration file.
// The format is chosen by extension: .toml is TOML, anything else is YAML.
// Environment variables in ${VAR} format are interpolated.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}

	cfg.interpolateEnvVars()

	return &cfg, nil
}

// stringMap flattens provider settings to strings with upper-cased keys.
// Scalars such as booleans and numbers are formatted with fmt.
func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			out[strings.ToUpper(k)] = ""
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out
}
