// Package config loads zonesync configuration from YAML or TOML files and
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/miekg/dns"
)

// Config is the complete, validated application configuration.
type Config struct {
	Global    *GlobalConfig
	Providers []*ProviderConfig
	Zones     []*ZoneConfig

	// Path is the file the configuration was loaded from, empty in env-only mode.
	Path string
}

// ProviderConfig describes one provider instance.
type ProviderConfig struct {
	Name   string
	Type   string
	Config map[string]string
}

// ZoneConfig describes one managed zone.
type ZoneConfig struct {
	// Name is the zone fqdn with a trailing dot.
	Name    string
	File    string
	Lenient bool
	Targets []string
}

// Provider returns the provider instance with the given name, or nil.
func (c *Config) Provider(name string) *ProviderConfig {
	for _, p := range c.Providers {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Zone returns the zone with the given name, or nil. The name may omit the
// trailing dot.
func (c *Config) Zone(name string) *ZoneConfig {
	fqdn := dns.Fqdn(strings.ToLower(name))
	for _, z := range c.Zones {
		if z.Name == fqdn {
			return z
		}
	}
	return nil
}

// TargetsFor returns the provider instances the zone is pushed to.
// A zone without explicit targets goes to every provider.
func (c *Config) TargetsFor(z *ZoneConfig) []*ProviderConfig {
	if len(z.Targets) == 0 {
		return c.Providers
	}
	out := make([]*ProviderConfig, 0, len(z.Targets))
	for _, name := range z.Targets {
		if p := c.Provider(name); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the configuration at path, applies environment overrides and
// validates the result. An empty path builds the configuration from
// environment variables alone.
func Load(path string) (*Config, error) {
	var (
		fc      *FileConfig
		baseDir string
		err     error
	)

	if path == "" {
		fc = fileConfigFromEnv()
		baseDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
	} else {
		fc, err = LoadFile(path)
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Dir(path)
	}

	global, errs := globalFromFile(fc)
	errs = append(errs, mergeGlobalEnv(global)...)

	cfg := &Config{
		Global: global,
		Path:   path,
	}
	cfg.Global.ZonesDir = resolvePath(baseDir, cfg.Global.ZonesDir)

	for _, fp := range fc.Providers {
		cfg.Providers = append(cfg.Providers, &ProviderConfig{
			Name:   strings.TrimSpace(fp.Name),
			Type:   strings.ToLower(strings.TrimSpace(fp.Type)),
			Config: stringMap(fp.Config),
		})
	}

	for _, fz := range fc.Zones {
		name := strings.ToLower(strings.TrimSpace(fz.Name))
		if name != "" {
			name = dns.Fqdn(name)
		}
		file := fz.File
		if file == "" && name != "" {
			file = filepath.Join(cfg.Global.ZonesDir, name+"yaml")
		} else if file != "" {
			file = resolvePath(baseDir, file)
		}
		cfg.Zones = append(cfg.Zones, &ZoneConfig{
			Name:    name,
			File:    file,
			Lenient: fz.Lenient,
			Targets: fz.Targets,
		})
	}

	errs = append(errs, validateGlobal(cfg.Global)...)
	errs = append(errs, validateConfig(cfg)...)
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return cfg, nil
}

// fileConfigFromEnv builds the configuration structure from ZONESYNC_*
// variables. Provider settings are left to each provider's own environment
// lookup.
//
//	ZONESYNC_PROVIDERS=selectel
//	ZONESYNC_SELECTEL_TYPE=selectel   (defaults to the instance name)
//	ZONESYNC_ZONES=example.com,example.org
//	ZONESYNC_LENIENT=false
func fileConfigFromEnv() *FileConfig {
	fc := &FileConfig{}

	for _, name := range splitList(getEnv("ZONESYNC_PROVIDERS")) {
		typ := getEnv(envPrefix(name) + "TYPE")
		if typ == "" {
			typ = name
		}
		fc.Providers = append(fc.Providers, FileProviderConfig{Name: name, Type: typ})
	}

	lenient := parseBool(getEnv("ZONESYNC_LENIENT"), false)
	for _, name := range splitList(getEnv("ZONESYNC_ZONES")) {
		fc.Zones = append(fc.Zones, FileZoneConfig{Name: name, Lenient: lenient})
	}

	return fc
}

// envPrefix returns the variable prefix for a provider instance.
func envPrefix(name string) string {
	return "ZONESYNC_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
