// Package httputil provides the shared HTTP client used by zonesync providers.
package httputil

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gitlab.bluewillows.net/root/zonesync/internal/metrics"
)

// Default HTTP client configuration values.
const (
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is used when no custom user agent is specified.
	DefaultUserAgent = "zonesync/1.0"
)

// ClientConfig contains configuration for creating an HTTP client.
type ClientConfig struct {
	// Timeout is the HTTP client timeout. Defaults to 30 seconds.
	Timeout time.Duration

	// TLSSkipVerify controls whether to skip TLS certificate verification.
	// WARNING: This should only be used for testing or when connecting to
	// servers with self-signed certificates. It is insecure for production.
	TLSSkipVerify bool

	// UserAgent is the User-Agent header to set on requests.
	// Defaults to "zonesync/1.0" if not specified.
	UserAgent string

	// Headers are set on every request that does not already carry them,
	// e.g. an auth token.
	Headers map[string]string

	// Logger enables debug logging for HTTP requests.
	// If nil, no debug logging is performed.
	Logger *slog.Logger
}

// headerTransport wraps an http.RoundTripper to add static headers, log requests at
// debug level and count responses.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
	headers   map[string]string
	logger    *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())

	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	if t.logger != nil {
		t.logger.Debug("HTTP request",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
		)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		metrics.HTTPResponsesTotal.WithLabelValues(req.Method, "error").Inc()
		return resp, err
	}

	metrics.HTTPResponsesTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	if t.logger != nil {
		t.logger.Debug("HTTP response",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Int("status", resp.StatusCode),
		)
	}

	return resp, nil
}

// NewClient creates an HTTP client with the specified configuration.
// If cfg is nil, defaults are used (30s timeout, TLS verification enabled).
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	baseTransport := http.DefaultTransport

	if cfg.TLSSkipVerify {
		baseTransport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // Intentional: user explicitly requested skip
			},
		}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &headerTransport{
			base:      baseTransport,
			userAgent: userAgent,
			headers:   headers,
			logger:    cfg.Logger,
		},
	}
}
