package httputil

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gitlab.bluewillows.net/root/zonesync/internal/metrics"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(nil)

	if client == nil {
		t.Fatal("NewClient returned nil")
	}

	if client.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, client.Timeout)
	}

	ht, ok := client.Transport.(*headerTransport)
	if !ok {
		t.Fatal("expected transport to be *headerTransport")
	}

	if ht.userAgent != DefaultUserAgent {
		t.Errorf("expected userAgent %q, got %q", DefaultUserAgent, ht.userAgent)
	}

	if ht.base != http.DefaultTransport {
		t.Error("expected base transport to be http.DefaultTransport")
	}
}

func TestNewClient_Timeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"custom", 60 * time.Second, 60 * time.Second},
		{"zero uses default", 0, DefaultTimeout},
		{"negative uses default", -1 * time.Second, DefaultTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(&ClientConfig{Timeout: tt.timeout})
			if client.Timeout != tt.want {
				t.Errorf("expected timeout %v, got %v", tt.want, client.Timeout)
			}
		})
	}
}

func TestNewClient_TLSSkipVerify(t *testing.T) {
	client := NewClient(&ClientConfig{TLSSkipVerify: true})

	ht, ok := client.Transport.(*headerTransport)
	if !ok {
		t.Fatal("expected transport to be *headerTransport")
	}

	transport, ok := ht.base.(*http.Transport)
	if !ok {
		t.Fatal("expected base transport to be *http.Transport")
	}

	if transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify to be true")
	}
}

func TestNewClient_HeadersAppliedToRequests(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&ClientConfig{
		UserAgent: "test-zonesync/1.2.3",
		Headers: map[string]string{
			"X-Auth-Token": "secret",
			"X-Static":     "default",
		},
	})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("X-Static", "override")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ua := got.Get("User-Agent"); ua != "test-zonesync/1.2.3" {
		t.Errorf("expected User-Agent %q, got %q", "test-zonesync/1.2.3", ua)
	}
	if tok := got.Get("X-Auth-Token"); tok != "secret" {
		t.Errorf("expected X-Auth-Token %q, got %q", "secret", tok)
	}
	if v := got.Get("X-Static"); v != "override" {
		t.Errorf("expected request header to win, got %q", v)
	}
	if v := req.Header.Get("X-Auth-Token"); v != "" {
		t.Errorf("caller's request was modified: X-Auth-Token=%q", v)
	}
}

func TestNewClient_HeadersCopied(t *testing.T) {
	headers := map[string]string{"X-Auth-Token": "a"}
	client := NewClient(&ClientConfig{Headers: headers})
	headers["X-Auth-Token"] = "b"

	ht := client.Transport.(*headerTransport)
	if ht.headers["X-Auth-Token"] != "a" {
		t.Errorf("expected headers to be copied, got %q", ht.headers["X-Auth-Token"])
	}
}

func TestNewClient_CountsResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	counter := metrics.HTTPResponsesTotal.WithLabelValues(http.MethodDelete, "418")
	before := testutil.ToFloat64(counter)

	client := NewClient(nil)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodDelete, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected counter to increase by 1, got %f", got)
	}
}

func TestNewClient_WithLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client := NewClient(&ClientConfig{Logger: logger})

	ht, ok := client.Transport.(*headerTransport)
	if !ok {
		t.Fatal("expected transport to be *headerTransport")
	}

	if ht.logger != logger {
		t.Error("expected logger to be set on transport")
	}
}
