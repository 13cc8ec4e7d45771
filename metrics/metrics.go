/*
Package metrics exposes Prometheus collectors for the reservation engine.

COLLECTORS:
  facility_reservation_operations_total{operation,outcome}
  facility_reservation_lock_wait_seconds{operation}
  facility_reservation_sweep_reservations_total{result}
  facility_reservation_sweeps_total
  facility_reservation_notification_failures_total{event}

All methods are safe on a nil *Collector, so components can run without
metrics in tests.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "facility_reservation"

// Collector groups the engine's metrics.
type Collector struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	lockWait      *prometheus.HistogramVec
	sweepRows     *prometheus.CounterVec
	sweeps        prometheus.Counter
	notifyFailure *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by outcome.",
		}, []string{"operation", "outcome"}),
		lockWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-facility lock.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"operation"}),
		sweepRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_reservations_total",
			Help:      "Reservations visited by the completion sweep, by result.",
		}, []string{"result"}),
		sweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed sweep passes.",
		}),
		notifyFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered.",
		}, []string{"event"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Operation(operation, outcome string) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) LockWait(operation string, d time.Duration) {
	if c == nil {
		return
	}
	c.lockWait.WithLabelValues(operation).Observe(d.Seconds())
}

// Sweep records one finished completion pass.
func (c *Collector) Sweep(completed, skipped, failed int) {
	if c == nil {
		return
	}
	c.sweeps.Inc()
	c.sweepRows.WithLabelValues("completed").Add(float64(completed))
	c.sweepRows.WithLabelValues("skipped").Add(float64(skipped))
	c.sweepRows.WithLabelValues("failed").Add(float64(failed))
}

func (c *Collector) NotificationFailed(event string) {
	if c == nil {
		return
	}
	c.notifyFailure.WithLabelValues(event).Inc()
}
