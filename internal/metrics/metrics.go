// Package metrics exposes process and gateway metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bifrost-gw/bifrost/internal/service"
)

const namespace = "bifrost"

// Registry bundles the gateway metric set over a dedicated Prometheus
// registry so tests never collide on the global default.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RateLimitedTotal *prometheus.CounterVec
	ServiceHealth    *prometheus.GaugeVec
}

func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled by the gateway",
		},
		[]string{"method", "service", "status"},
	)
	r.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency through the gateway",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	r.RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)
	r.ServiceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_health_status",
			Help:      "Last probed backend health (1 healthy, 0 unhealthy, -1 unknown)",
		},
		[]string{"service"},
	)

	r.reg.MustRegister(
		r.RequestsTotal,
		r.RequestDuration,
		r.RateLimitedTotal,
		r.ServiceHealth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRequest records one completed gateway request.
func (r *Registry) ObserveRequest(method, svc, status string, d time.Duration) {
	r.RequestsTotal.WithLabelValues(method, svc, status).Inc()
	r.RequestDuration.WithLabelValues(svc).Observe(d.Seconds())
}

// SetServiceHealth mirrors a probe outcome into the health gauge.
func (r *Registry) SetServiceHealth(svc string, status service.HealthStatus) {
	var v float64
	switch status {
	case service.StatusHealthy:
		v = 1
	case service.StatusUnhealthy:
		v = 0
	default:
		v = -1
	}
	r.ServiceHealth.WithLabelValues(svc).Set(v)
}

// Handler serves the exposition endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
