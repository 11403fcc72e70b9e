// Package metrics holds the Prometheus collectors for ingestion and sync runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to memsync so tests can import packages repeatedly
// without colliding with the default registerer.
var Registry = prometheus.NewRegistry()

var (
	MessagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memsync",
			Name:      "messages_ingested_total",
			Help:      "Messages offered to the store, by source and outcome (inserted, duplicate, failed).",
		},
		[]string{"source", "outcome"},
	)

	RecordsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memsync",
			Name:      "records_skipped_total",
			Help:      "Raw records dropped by adapters before insertion, by source and reason.",
		},
		[]string{"source", "reason"},
	)

	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memsync",
			Name:      "sync_runs_total",
			Help:      "Tracked sync runs, by service and final status.",
		},
		[]string{"service", "status"},
	)

	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memsync",
			Name:      "sync_duration_seconds",
			Help:      "Wall time of tracked sync runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"service"},
	)

	SyncRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "memsync",
			Name:      "sync_running",
			Help:      "1 while a tracked run of the service is in progress.",
		},
		[]string{"service"},
	)

	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memsync",
			Name:      "upstream_requests_total",
			Help:      "HTTP requests made to provider APIs, by provider and status code class.",
		},
		[]string{"provider", "code"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		MessagesIngested,
		RecordsSkipped,
		SyncRuns,
		SyncDuration,
		SyncRunning,
		UpstreamRequests,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
