// package metrics holds the prometheus collectors of the proxy service
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tinkle_proxy"

// Cache lookup results
const (
	CacheResultHit   = "hit"
	CacheResultMiss  = "miss"
	CacheResultError = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Upstream metrics
	BareServerSelections *prometheus.CounterVec
	UpstreamErrors       *prometheus.CounterVec

	// Lifecycle metrics
	LifecycleState *prometheus.GaugeVec
}

// New creates the collectors on a registry of their own so
// that several services can live in one process (tests)
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache store lookups by namespace and result",
			},
			[]string{"namespace", "result"},
		),
		BareServerSelections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bare_server_selections_total",
				Help:      "Bare relay server selections",
			},
			[]string{"server"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Failed upstream calls by adapter",
			},
			[]string{"adapter"},
		),
		LifecycleState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lifecycle_state",
				Help:      "1 for the current lifecycle state, 0 otherwise",
			},
			[]string{"state"},
		),
	}
}

// Handler exposes the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the collectors are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCacheLookup records a cache lookup of namespace, an empty namespace is reported as "any"
func (m *Metrics) ObserveCacheLookup(namespace string, result string) {
	if m == nil {
		return
	}
	if namespace == "" {
		namespace = "any"
	}
	m.CacheLookups.WithLabelValues(namespace, result).Inc()
}

// ObserveBareServerSelection records which relay server served a bare request
func (m *Metrics) ObserveBareServerSelection(server string) {
	if m == nil {
		return
	}
	m.BareServerSelections.WithLabelValues(server).Inc()
}

// ObserveUpstreamError records a failed upstream call of adapter
func (m *Metrics) ObserveUpstreamError(adapter string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(adapter).Inc()
}

// SetLifecycleState marks state as the current one among states
func (m *Metrics) SetLifecycleState(state string, states []string) {
	if m == nil {
		return
	}
	for _, s := range states {
		value := 0.0
		if s == state {
			value = 1
		}
		m.LifecycleState.WithLabelValues(s).Set(value)
	}
}
