// Package metrics provides Prometheus metrics for zonesync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names use the zonesync_ prefix.
const (
	Namespace = "zonesync"
)

var (
	// BuildInfo is always 1 and carries version labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information for zonesync.",
	}, []string{"version", "go_version"})

	// SyncsTotal counts zone sync runs by result (success, error, noop).
	SyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "syncs_total",
		Help:      "Total number of zone sync runs by result.",
	}, []string{"zone", "result"})

	// SyncDuration observes the duration of a full zone sync in seconds.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of zone sync runs in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// RecordsPopulated is the number of records read from a provider for a zone.
	RecordsPopulated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "records_populated",
		Help:      "Number of records read from the provider on the last populate.",
	}, []string{"provider", "zone"})

	// ChangesPlanned counts planned changes by kind.
	ChangesPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "changes_planned_total",
		Help:      "Total number of planned record changes by kind.",
	}, []string{"provider", "kind"})

	// ActionsTotal counts apply actions by type and status.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "actions_total",
		Help:      "Total number of rrset actions by type and status.",
	}, []string{"provider", "action", "status"})

	// ProviderAPIRequestsTotal counts API requests to providers.
	ProviderAPIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "provider_api_requests_total",
		Help:      "Total number of provider API requests.",
	}, []string{"provider", "operation", "status"})

	// ProviderAPIDuration observes provider API request latency in seconds.
	ProviderAPIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "provider_api_duration_seconds",
		Help:      "Provider API request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	// HTTPResponsesTotal counts raw HTTP responses by method and status code class.
	HTTPResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_responses_total",
		Help:      "Total number of HTTP responses received by method and code.",
	}, []string{"method", "code"})
)

// SetBuildInfo records the running version.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// WriteTextfile writes all registered metrics to path in the Prometheus text format,
// for collection by node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
