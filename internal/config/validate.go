package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/miekg/dns"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// validateConfig performs cross-field validation on the complete configuration.
func validateConfig(cfg *Config) []string {
	var errs []string

	if len(cfg.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}

	providers := make(map[string]bool)
	for i, p := range cfg.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("providers[%d]: name is required", i))
			continue
		}
		if p.Type == "" {
			errs = append(errs, fmt.Sprintf("provider %q: type is required", p.Name))
		}
		if providers[p.Name] {
			errs = append(errs, fmt.Sprintf("duplicate provider name: %q", p.Name))
		}
		providers[p.Name] = true
	}

	zones := make(map[string]bool)
	for i, z := range cfg.Zones {
		if z.Name == "" {
			errs = append(errs, fmt.Sprintf("zones[%d]: name is required", i))
			continue
		}
		if _, ok := dns.IsDomainName(z.Name); !ok || z.Name == "." {
			errs = append(errs, fmt.Sprintf("zone %q: invalid domain name", z.Name))
		}
		if zones[z.Name] {
			errs = append(errs, fmt.Sprintf("duplicate zone: %q", z.Name))
		}
		zones[z.Name] = true

		for _, target := range z.Targets {
			if !providers[target] {
				errs = append(errs, fmt.Sprintf("zone %q: unknown target provider %q", z.Name, target))
			}
		}
	}

	return errs
}

// ValidateProviderTypes checks every provider instance against the types a
// registry knows about.
func ValidateProviderTypes(cfg *Config, knownTypes []string) error {
	var errs []string
	for _, p := range cfg.Providers {
		if !slices.Contains(knownTypes, p.Type) {
			errs = append(errs, fmt.Sprintf("provider %q: unknown type %q (known types: %s)",
				p.Name, p.Type, strings.Join(knownTypes, ", ")))
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
