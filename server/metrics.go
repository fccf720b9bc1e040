package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry for the gateway. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	registrations prometheus.Counter
	tokenExchange *prometheus.CounterVec
	devicePolls   *prometheus.CounterVec
}

// NewMetrics registers the gateway collectors plus Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zendesk_mcp",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the gateway.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zendesk_mcp",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zendesk_mcp",
			Name:      "client_registrations_total",
			Help:      "Dynamic client registrations accepted.",
		}),
		tokenExchange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zendesk_mcp",
			Name:      "token_exchanges_total",
			Help:      "Authorization-code exchanges proxied to Zendesk by result.",
		}, []string{"result"}),
		devicePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zendesk_mcp",
			Name:      "device_poll_attempts_total",
			Help:      "Device-flow token poll attempts by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(
		m.requests,
		m.duration,
		m.registrations,
		m.tokenExchange,
		m.devicePolls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) ObserveRegistration() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

func (m *Metrics) ObserveTokenExchange(result string) {
	if m == nil {
		return
	}
	m.tokenExchange.WithLabelValues(result).Inc()
}

// ObserveDevicePoll matches auth.WithAttemptHook.
func (m *Metrics) ObserveDevicePoll(outcome string) {
	if m == nil {
		return
	}
	m.devicePolls.WithLabelValues(outcome).Inc()
}
