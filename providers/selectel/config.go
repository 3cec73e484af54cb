package selectel

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds Selectel-specific configuration.
type Config struct {
	Token         string // Keystone token sent as X-Auth-Token
	Endpoint      string // API base URL (defaults to DefaultAPIEndpoint)
	UpdateInPlace bool   // PATCH single-rrset updates instead of delete+create

	Timeout       time.Duration // HTTP timeout; 0 uses the client default
	TLSSkipVerify bool          // for endpoints with self-signed certificates
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.Token == "" {
		errs = append(errs, "TOKEN is required")
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("ENDPOINT %q is not an absolute URL", c.Endpoint))
		}
	}

	if c.Timeout < 0 {
		errs = append(errs, "TIMEOUT must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("selectel config validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// LoadConfigFromMap builds a Config from a provider's config block.
// Keys are case-insensitive: token, token_file, endpoint, update_in_place,
// timeout, tls_skip_verify.
// Values missing from the map fall back to environment variables
// ZONESYNC_{INSTANCE_NAME}_{KEY}.
func LoadConfigFromMap(instanceName string, m map[string]string) (*Config, error) {
	values := make(map[string]string, len(m))
	for k, v := range m {
		values[strings.ToUpper(k)] = v
	}
	prefix := envPrefix(instanceName)

	lookup := func(key string) string {
		if v := values[key]; v != "" {
			return v
		}
		return os.Getenv(prefix + key)
	}

	token := values["TOKEN"]
	if token == "" && values["TOKEN_FILE"] != "" {
		content, err := os.ReadFile(values["TOKEN_FILE"])
		if err != nil {
			return nil, fmt.Errorf("reading token file for %s: %w", instanceName, err)
		}
		token = strings.TrimSpace(string(content))
	}
	if token == "" {
		token = getEnvOrFile(prefix+"TOKEN", prefix+"TOKEN_FILE")
	}

	config := &Config{
		Token:         token,
		Endpoint:      strings.TrimRight(lookup("ENDPOINT"), "/"),
		UpdateInPlace: parseBool(lookup("UPDATE_IN_PLACE")),
		TLSSkipVerify: parseBool(lookup("TLS_SKIP_VERIFY")),
	}
	if v := lookup("TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("configuration for %s: invalid TIMEOUT %q: %w", instanceName, v, err)
		}
		config.Timeout = d
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration for %s: %w", instanceName, err)
	}

	return config, nil
}

// LoadConfig loads Selectel configuration from environment variables only.
// Environment variable pattern: ZONESYNC_{INSTANCE_NAME}_{SETTING}
//
// Instance names are normalized: lowercase with hyphens becomes uppercase with underscores.
// Example: "selectel-prod" looks for ZONESYNC_SELECTEL_PROD_*
//
// Supported settings:
//   - TOKEN: API token (required, supports _FILE suffix for Docker secrets)
//   - ENDPOINT: API base URL (optional)
//   - UPDATE_IN_PLACE: PATCH updates (optional, defaults to false)
//   - TIMEOUT: HTTP timeout as a Go duration (optional, defaults to 30s)
//   - TLS_SKIP_VERIFY: skip certificate verification (optional, defaults to false)
func LoadConfig(instanceName string) (*Config, error) {
	return LoadConfigFromMap(instanceName, nil)
}

// envPrefix converts an instance name to an environment variable prefix.
// Example: "selectel-prod" → "ZONESYNC_SELECTEL_PROD_"
func envPrefix(instanceName string) string {
	normalized := strings.ToUpper(instanceName)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return "ZONESYNC_" + normalized + "_"
}

// getEnvOrFile retrieves a value from either a direct environment variable
// or a file path specified by the file key (Docker secrets pattern).
//
// If both are set, the file takes precedence.
// The file contents are trimmed of leading/trailing whitespace.
func getEnvOrFile(directKey, fileKey string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return os.Getenv(directKey)
}

// parseBool parses a boolean string.
// Accepts: true/false, 1/0, yes/no, on/off (case-insensitive).
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
