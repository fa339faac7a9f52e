// Package metrics registers the gateway's Prometheus collectors and serves
// them on a dedicated endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gateway's collectors around one Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec
	AuditChainLength    prometheus.Gauge
	DriftChecks         *prometheus.CounterVec
	WebSocketConns      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Requests handled, by protocol and status class.",
	}, []string{"protocol", "status"})

	r.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Request latency by protocol.",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol"})

	r.RateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limit_rejections_total",
		Help: "Requests rejected by the rate-limit stages, by bucket kind.",
	}, []string{"kind"})

	r.AuditChainLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_audit_chain_length",
		Help: "Entries in the audit hash chain.",
	})

	r.DriftChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_drift_checks_total",
		Help: "Drift guard evaluations, by severity.",
	}, []string{"severity"})

	r.WebSocketConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_websocket_connections",
		Help: "Live WebSocket connections.",
	})

	r.reg.MustRegister(
		r.RequestsTotal, r.RequestDuration, r.RateLimitRejections,
		r.AuditChainLength, r.DriftChecks, r.WebSocketConns,
	)
	return r
}

// Handler serves the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
