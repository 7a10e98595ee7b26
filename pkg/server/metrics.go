package server

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus instrumentation.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "liveline").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "liveline",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	dispatchErrors   prometheus.Counter
	liveActive       prometheus.Gauge
	liveReattaches   prometheus.Counter
	livePushesTotal  prometheus.Counter
	liveCreatedTotal prometheus.Counter
	liveClosedTotal  prometheus.Counter
}

var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

// EnableMetrics initializes the Prometheus metrics. Safe to call more than
// once; only the first call's configuration takes effect.
func EnableMetrics(config MetricsConfig) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics != nil {
		return
	}
	if config.Namespace == "" {
		config.Namespace = "liveline"
	}
	if config.Buckets == nil {
		config.Buckets = prometheus.DefBuckets
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	globalMetrics = initMetrics(config)
}

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "requests_total",
			Help:        "Total number of HTTP requests by method and status",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "request_duration_seconds",
			Help:        "Request handling duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"method"}),

		dispatchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "dispatch_errors_total",
			Help:        "Total number of handler errors replayed into error routes",
			ConstLabels: config.ConstLabels,
		}),

		liveActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "live_connections",
			Help:        "Number of registered live connections",
			ConstLabels: config.ConstLabels,
		}),

		liveReattaches: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "live_reattaches_total",
			Help:        "Total number of live-connection reattachments",
			ConstLabels: config.ConstLabels,
		}),

		livePushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "live_pushes_total",
			Help:        "Total number of update signals delivered to live connections",
			ConstLabels: config.ConstLabels,
		}),

		liveCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "live_created_total",
			Help:        "Total number of live connections created",
			ConstLabels: config.ConstLabels,
		}),

		liveClosedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "live_closed_total",
			Help:        "Total number of live connections destroyed",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func recordRequest(method string, status int, elapsed time.Duration) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	globalMetrics.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func recordDispatchError() {
	if globalMetrics != nil {
		globalMetrics.dispatchErrors.Inc()
	}
}

func recordLiveCreated(active int) {
	if globalMetrics != nil {
		globalMetrics.liveCreatedTotal.Inc()
		globalMetrics.liveActive.Set(float64(active))
	}
}

func recordLiveClosed(active int) {
	if globalMetrics != nil {
		globalMetrics.liveClosedTotal.Inc()
		globalMetrics.liveActive.Set(float64(active))
	}
}

func recordLiveReattach() {
	if globalMetrics != nil {
		globalMetrics.liveReattaches.Inc()
	}
}

func recordLivePush(count int) {
	if globalMetrics != nil {
		globalMetrics.livePushesTotal.Add(float64(count))
	}
}
