package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the serving plane. The
// middleware records transport-level counters; the handler records
// decision-level ones.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DecisionsTotal   *prometheus.CounterVec
	UpstreamErrors   *prometheus.CounterVec
	FormSubmissions  *prometheus.CounterVec
	AssetBytesServed prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagegate",
				Name:      "requests_total",
				Help:      "Total serving requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pagegate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagegate",
				Name:      "route_decisions_total",
				Help:      "Routing decisions by kind",
			},
			[]string{"kind"}, // serve/redirect/proxy/form/miss
		),
		UpstreamErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagegate",
				Name:      "proxy_upstream_errors_total",
				Help:      "External proxy failures by kind",
			},
			[]string{"kind"}, // timeout/failure
		),
		FormSubmissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagegate",
				Name:      "form_submissions_total",
				Help:      "Form handler outcomes",
			},
			[]string{"outcome"}, // sent/dropped/limited/error
		),
		AssetBytesServed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "pagegate",
				Name:      "asset_bytes_served_total",
				Help:      "Bytes streamed from object storage to clients",
			},
		),
	}
}
