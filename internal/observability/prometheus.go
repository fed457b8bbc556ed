// Package observability exports offline cache metrics to Prometheus.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"offlinecache/internal/shim"
)

// PrometheusHooks implements shim.Hooks with Prometheus collectors.
type PrometheusHooks struct {
	fetches         *prometheus.CounterVec
	lookupErrors    prometheus.Counter
	initializations *prometheus.CounterVec
	initDuration    prometheus.Histogram
	precachedAssets *prometheus.GaugeVec
}

// NewPrometheusHooks registers the collectors with the default registry.
// Call it once per process.
func NewPrometheusHooks() *PrometheusHooks {
	return NewPrometheusHooksWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPrometheusHooksWithRegisterer registers the collectors with reg.
func NewPrometheusHooksWithRegisterer(reg prometheus.Registerer) *PrometheusHooks {
	factory := promauto.With(reg)
	return &PrometheusHooks{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offlinecache_fetches_total",
			Help: "Total number of handled fetches by outcome (hit, miss, network_error)",
		}, []string{"outcome"}),
		lookupErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "offlinecache_cache_lookup_errors_total",
			Help: "Total number of cache lookups that failed and fell through to the network",
		}),
		initializations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offlinecache_initializations_total",
			Help: "Total number of precache initializations by namespace and result",
		}, []string{"namespace", "result"}),
		initDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "offlinecache_initialization_duration_seconds",
			Help:    "Time spent fetching and storing the precache asset list",
			Buckets: prometheus.DefBuckets,
		}),
		precachedAssets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "offlinecache_precached_assets",
			Help: "Number of assets stored by the last successful initialization",
		}, []string{"namespace"}),
	}
}

func (h *PrometheusHooks) InitializeCompleted(namespace string, assets int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	h.initializations.WithLabelValues(namespace, result).Inc()
	h.initDuration.Observe(duration.Seconds())
	if err == nil {
		h.precachedAssets.WithLabelValues(namespace).Set(float64(assets))
	}
}

func (h *PrometheusHooks) FetchHandled(outcome shim.Outcome) {
	h.fetches.WithLabelValues(string(outcome)).Inc()
}

func (h *PrometheusHooks) CacheLookupFailed() {
	h.lookupErrors.Inc()
}

var _ shim.Hooks = (*PrometheusHooks)(nil)
