// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ekaya_query_engine"

// Metrics holds every instrument the engine records.
type Metrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	QueryExecutions  *prometheus.CounterVec // by status
	QueryDuration    prometheus.Histogram
	ScheduleFirings  *prometheus.CounterVec // by status
	ArmedSchedules   prometheus.Gauge
	CacheCleanupRows prometheus.Counter
	HTTPRequests     *prometheus.CounterVec // by route pattern and status code
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Query cache lookups that returned a live entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Query cache lookups that found nothing, an expired entry, or failed.",
		}),
		QueryExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_executions_total",
			Help:      "Natural-language query executions by final status.",
		}, []string{"status"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_execution_seconds",
			Help:      "Wall-clock time of a query execution, from introspection to last row.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ScheduleFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_firings_total",
			Help:      "Cron schedule firings by execution status.",
		}, []string{"status"}),
		ArmedSchedules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "armed_schedules",
			Help:      "Cron schedules currently armed in this process.",
		}),
		CacheCleanupRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_cleanup_rows_total",
			Help:      "Expired cache entries removed by cleanup runs.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.QueryExecutions,
		m.QueryDuration,
		m.ScheduleFirings,
		m.ArmedSchedules,
		m.CacheCleanupRows,
		m.HTTPRequests,
	)
	return m
}

// NewNop returns instruments bound to a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the HTTP handler serving the given registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
