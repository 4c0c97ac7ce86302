// Package metrics wraps Prometheus collectors for the plugin runtime.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the runtime's metric vectors on a private registry.
// A nil *Collector is valid and records nothing, so callers never need to
// guard their instrumentation sites.
type Collector struct {
	registry *prometheus.Registry

	LifecycleOps    *prometheus.CounterVec
	HookDuration    *prometheus.HistogramVec
	ProxyRequests   *prometheus.CounterVec
	ProxyDuration   *prometheus.HistogramVec
	ActiveInstances *prometheus.GaugeVec
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		LifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_operations_total",
			Help:      "Plugin lifecycle operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		HookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Plugin lifecycle hook execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plugin", "hook"}),
		ProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Requests dispatched through the plugin route proxy by status code.",
		}, []string{"plugin", "code"}),
		ProxyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Plugin route proxy request handling time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plugin"}),
		ActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_instances",
			Help:      "Plugin instances currently in the active state, per tenant.",
		}, []string{"tenant"}),
	}
	c.registry.MustRegister(c.LifecycleOps, c.HookDuration, c.ProxyRequests, c.ProxyDuration, c.ActiveInstances)
	return c
}

// Handler returns the HTTP handler exposing the registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveLifecycle records one lifecycle operation outcome.
func (c *Collector) ObserveLifecycle(operation, outcome string) {
	if c == nil {
		return
	}
	c.LifecycleOps.WithLabelValues(operation, outcome).Inc()
}

// ObserveHook records one hook invocation duration.
func (c *Collector) ObserveHook(plugin, hook string, d time.Duration) {
	if c == nil {
		return
	}
	c.HookDuration.WithLabelValues(plugin, hook).Observe(d.Seconds())
}

// ObserveProxy records one proxied request.
func (c *Collector) ObserveProxy(plugin string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.ProxyRequests.WithLabelValues(plugin, strconv.Itoa(code)).Inc()
	c.ProxyDuration.WithLabelValues(plugin).Observe(d.Seconds())
}

// SetActiveInstances records the current number of active instances for a tenant.
func (c *Collector) SetActiveInstances(tenant string, n int) {
	if c == nil {
		return
	}
	c.ActiveInstances.WithLabelValues(tenant).Set(float64(n))
}
