// Package metrics defines the Prometheus collectors for academy sync and
// cache activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors.
type Metrics struct {
	syncRequests *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	syncRetries  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_sync_requests_total",
				Help: "Sync requests to the academy endpoint by action and result.",
			},
			[]string{"action", "result"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "academy_sync_request_duration_seconds",
				Help:    "Duration of sync requests including retries.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"action"},
		),
		syncRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_sync_retries_total",
				Help: "Retried sync attempts by action.",
			},
			[]string{"action"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_cache_lookups_total",
				Help: "Store cache lookups by cache and result.",
			},
			[]string{"cache", "result"},
		),
	}
	reg.MustRegister(m.syncRequests, m.syncDuration, m.syncRetries, m.cacheLookups)
	return m
}

// SyncRequest records one finished sync call.
func (m *Metrics) SyncRequest(action string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.syncRequests.WithLabelValues(action, result).Inc()
	m.syncDuration.WithLabelValues(action).Observe(d.Seconds())
}

// SyncRetry records one retry of a sync call.
func (m *Metrics) SyncRetry(action string) {
	if m == nil {
		return
	}
	m.syncRetries.WithLabelValues(action).Inc()
}

// CacheLookup records a store cache hit or miss.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
