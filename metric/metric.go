// Package metric holds the data-plane Prometheus metrics and their
// registry. The gateway exposes them on /metrics.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all data-plane metrics.
type Metrics struct {
	// Relay metrics
	RelayRequests *prometheus.CounterVec
	RelayRetries  *prometheus.CounterVec
	RelaySeconds  *prometheus.HistogramVec

	// Mover metrics
	MoverRuns      *prometheus.CounterVec
	ItemsMoved     *prometheus.CounterVec
	ChunksWritten  *prometheus.CounterVec
	OversizedItems prometheus.Counter

	// Ingestion metrics
	EventsIngested *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
}

// NewMetrics creates all data-plane metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RelayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudrelay",
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "Total number of relay requests sent",
			},
			[]string{"target", "status"},
		),

		RelayRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudrelay",
				Subsystem: "relay",
				Name:      "retries_total",
				Help:      "Total number of relay attempt retries",
			},
			[]string{"target"},
		),

		RelaySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cloudrelay",
				Subsystem: "relay",
				Name:      "send_seconds",
				Help:      "Relay send duration in seconds, retries included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target"},
		),

		MoverRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudrelay",
				Subsystem: "mover",
				Name:      "runs_total",
				Help:      "Total number of mover ticks",
			},
			[]string{"boundary", "status"},
		),

		ItemsMoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudrelay",
				Subsystem: "mover",
				Name:      "items_moved_total",
				Help:      "Total number of items moved between tiers",
			},
			[]string{"boundary"},
		),

		ChunksWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudrelay",
				Subsystem: "mover",
				Name:      "chunks_written_total",
				Help:      "Total number of chunks written to the target tier",
			},
			[]string{"boundary"},
		),

		OversizedItems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cloudrelay",
				Subsystem: "chunk",
				Name:      "oversized_items_total",
				Help:      "Total number of items larger than the chunk ceiling",
			},
		),

		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudrelay",
				Subsystem: "ingestion",
				Name:      "events_total",
				Help:      "Total number of events accepted by ingestion",
			},
			[]string{"boundary"},
		),

		EventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudrelay",
				Subsystem: "ingestion",
				Name:      "rejected_total",
				Help:      "Total number of events rejected by ingestion",
			},
			[]string{"boundary", "reason"},
		),
	}
}

// Registry bundles the Prometheus registry with the data-plane metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
}

// NewRegistry creates a registry with the data-plane metrics and the Go
// runtime collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
	}

	r.prometheusRegistry.MustRegister(
		r.Metrics.RelayRequests,
		r.Metrics.RelayRetries,
		r.Metrics.RelaySeconds,
		r.Metrics.MoverRuns,
		r.Metrics.ItemsMoved,
		r.Metrics.ChunksWritten,
		r.Metrics.OversizedItems,
		r.Metrics.EventsIngested,
		r.Metrics.EventsRejected,
	)

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}

// RelayObserver adapts the relay counters to the relay client's
// observer interface.
type RelayObserver struct {
	metrics *Metrics
}

// NewRelayObserver creates an observer over the registry's metrics.
func NewRelayObserver(m *Metrics) *RelayObserver {
	return &RelayObserver{metrics: m}
}

// RelaySent records one completed send.
func (o *RelayObserver) RelaySent(target string, statusCode int, elapsed time.Duration) {
	status := "ok"
	if statusCode < 200 || statusCode >= 300 {
		status = "error"
	}
	o.metrics.RelayRequests.WithLabelValues(target, status).Inc()
	o.metrics.RelaySeconds.WithLabelValues(target).Observe(elapsed.Seconds())
}

// RelayRetried records one retried attempt.
func (o *RelayObserver) RelayRetried(target string) {
	o.metrics.RelayRetries.WithLabelValues(target).Inc()
}
