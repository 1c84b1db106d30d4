// Package metrics exposes Prometheus collectors for the HTTP API, carrier
// verification, call results and the load set.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple apps do not collide.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	verifications   *prometheus.CounterVec
	callResults     *prometheus.CounterVec
	loadsLoaded     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carrier_verifications_total",
			Help: "Carrier verifications by answer source and verified flag.",
		}, []string{"source", "verified"}),
		callResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_results_total",
			Help: "Call results recorded by outcome.",
		}, []string{"outcome"}),
		loadsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loads_loaded",
			Help: "Loads in the current repository snapshot.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.verifications,
		m.callResults,
		m.loadsLoaded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// GinMiddleware records request counts and latency keyed by the matched route
// template, so path parameters do not create new series.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RecordVerification(source string, verified bool) {
	m.verifications.WithLabelValues(source, strconv.FormatBool(verified)).Inc()
}

func (m *Metrics) RecordCallResult(outcome string) {
	m.callResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetLoadsLoaded(n int) {
	m.loadsLoaded.Set(float64(n))
}
