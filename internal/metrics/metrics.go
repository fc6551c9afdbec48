// Package metrics exports reconciliation metrics to Prometheus.
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custsync "github.com/sheetsync/custsync/internal/sync"
)

const namespace = "custsync"

// Collector records pass outcomes on a private registry.
type Collector struct {
	registry *prom.Registry
	passes   *prom.CounterVec
	duration *prom.HistogramVec
	pending  prom.Gauge
}

// New creates a Collector with its own registry. Go runtime and process
// collectors are registered alongside the custsync metrics.
func New() *Collector {
	c := &Collector{
		registry: prom.NewRegistry(),
		passes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Reconciliation passes by operation and status.",
		}, []string{"op", "status"}),
		duration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Reconciliation pass latency, including the row-store calls.",
			Buckets:   prom.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		pending: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_changes",
			Help:      "Customer changes waiting in the daemon debounce queue.",
		}),
	}
	c.registry.MustRegister(
		c.passes,
		c.duration,
		c.pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prom.Registry {
	return c.registry
}

// OnPass implements sync.Listener.
func (c *Collector) OnPass(p custsync.Pass) {
	op := p.Operation.Kind.String()
	c.passes.WithLabelValues(op, p.Status()).Inc()
	c.duration.WithLabelValues(op).Observe(p.Duration.Seconds())
}

// SetPending reports the daemon queue length. It matches the signature of
// daemon.Config.OnQueueChange.
func (c *Collector) SetPending(n int) {
	c.pending.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
