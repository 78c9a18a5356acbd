package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	lookups          *prometheus.CounterVec
	providerDuration prometheus.Histogram
	requests         *prometheus.CounterVec
	swept            *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bin_lookups_total",
			Help: "BIN lookups by source (memory, cache, provider) and result.",
		}, []string{"source", "result"}),
		providerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bin_provider_request_duration_seconds",
			Help:    "Latency of calls to the external BIN provider.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pending_requests_total",
			Help: "Pending request lifecycle events by kind and event (submitted, delivered, delivery_failed, status).",
		}, []string{"kind", "event"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pending_requests_swept_total",
			Help: "Pending requests deleted by trigger (event, timer).",
		}, []string{"kind", "trigger"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}
	for _, c := range []prometheus.Collector{m.lookups, m.providerDuration, m.requests, m.swept, m.httpRequests, m.httpDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Lookup(source, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ProviderCall(d time.Duration) {
	if m == nil {
		return
	}
	m.providerDuration.Observe(d.Seconds())
}

func (m *Metrics) Request(kind, event string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, event).Inc()
}

func (m *Metrics) Swept(kind, trigger string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.swept.WithLabelValues(kind, trigger).Add(float64(n))
}

func (m *Metrics) HTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
