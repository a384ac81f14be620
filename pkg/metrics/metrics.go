// Package metrics exposes admission decisions and store calls to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manenim/admission-gate/pkg/limiter"
)

// Collector owns every metric the gateway exports.
type Collector struct {
	registry *prometheus.Registry

	allowed  *prometheus.CounterVec
	denied   *prometheus.CounterVec
	degraded *prometheus.CounterVec
	exempt   *prometheus.CounterVec

	storeCalls   *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec

	requestLatency *prometheus.HistogramVec
}

// NewCollector registers the gateway metrics on a fresh registry. Go runtime
// and process collectors are included when withRuntime is set.
func NewCollector(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		allowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_allows_total",
			Help: "Total allowed requests",
		}, []string{"route", "policy"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_denies_total",
			Help: "Total denied requests",
		}, []string{"route", "policy"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_degraded_total",
			Help: "Requests admitted without a bucket check because the store failed",
		}, []string{"route"}),
		exempt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_exempt_total",
			Help: "Requests from exempt identities",
		}, []string{"route"}),
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_store_calls_total",
			Help: "Bucket script executions by result",
		}, []string{"result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rate_limit_store_latency_seconds",
			Help:    "Bucket script round trip latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"result"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "Request latency histogram",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"route", "method", "status"}),
	}

	c.registry.MustRegister(c.allowed, c.denied, c.degraded, c.exempt, c.storeCalls, c.storeLatency, c.requestLatency)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

func (c *Collector) Allowed(route, policy string) { c.allowed.WithLabelValues(route, policy).Inc() }
func (c *Collector) Denied(route, policy string)  { c.denied.WithLabelValues(route, policy).Inc() }
func (c *Collector) Degraded(route string)        { c.degraded.WithLabelValues(route).Inc() }
func (c *Collector) Exempt(route string)          { c.exempt.WithLabelValues(route).Inc() }

// Add implements limiter.MetricsRecorder.
func (c *Collector) Add(name string, value float64, tags map[string]string) {
	if name == limiter.MetricCall {
		c.storeCalls.WithLabelValues(tags["result"]).Add(value)
	}
}

// Observe implements limiter.MetricsRecorder.
func (c *Collector) Observe(name string, value float64, tags map[string]string) {
	if name == limiter.MetricLatency {
		c.storeLatency.WithLabelValues(tags["result"]).Observe(value)
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var _ limiter.MetricsRecorder = (*Collector)(nil)
