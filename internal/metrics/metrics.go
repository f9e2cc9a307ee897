// ============================================================================
// LAPS Metrics - Prometheus Collectors
// ============================================================================
//
// Package: internal/metrics
// Purpose: Collects and exposes operational metrics for the coordination
// backend.
//
// Metric inventory:
//   laps_jobs_dispatched_total    new jobs pushed onto a work queue
//   laps_jobs_deduplicated_total  submissions answered from the dedup cache
//   laps_jobs_cancelled_total     jobs unwound by a cancellation cascade
//   laps_polls_rejected_total     polls refused by admission control
//   laps_poll_duration_seconds    wall time of one poll invocation
//   laps_registered_modules       modules with at least one live worker
//   laps_polling_clients          clients currently inside the result gate
//
// ============================================================================

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the backend records. Each Collector owns a
// private registry so tests can build as many as they like without duplicate
// registration panics.
type Collector struct {
	registry *prometheus.Registry

	jobsDispatched   prometheus.Counter
	jobsDeduplicated prometheus.Counter
	jobsCancelled    prometheus.Counter
	pollsRejected    prometheus.Counter
	pollDuration     prometheus.Histogram
	registeredMods   prometheus.Gauge
	pollingClients   prometheus.Gauge
}

// NewCollector creates and registers all backend metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laps_jobs_dispatched_total",
			Help: "Total number of new jobs pushed onto a module work queue",
		}),
		jobsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laps_jobs_deduplicated_total",
			Help: "Total number of submissions answered from the dedup cache",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laps_jobs_cancelled_total",
			Help: "Total number of jobs cancelled by a module shutdown cascade",
		}),
		pollsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laps_polls_rejected_total",
			Help: "Total number of result polls rejected by admission control",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "laps_poll_duration_seconds",
			Help:    "Wall time spent inside one result poll invocation",
			Buckets: prometheus.DefBuckets,
		}),
		registeredMods: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "laps_registered_modules",
			Help: "Number of modules with at least one live worker",
		}),
		pollingClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "laps_polling_clients",
			Help: "Number of clients currently polling for a result",
		}),
	}

	c.registry.MustRegister(
		c.jobsDispatched,
		c.jobsDeduplicated,
		c.jobsCancelled,
		c.pollsRejected,
		c.pollDuration,
		c.registeredMods,
		c.pollingClients,
	)
	return c
}

// RecordDispatch records a new job being queued.
func (c *Collector) RecordDispatch() {
	c.jobsDispatched.Inc()
}

// RecordDeduplicated records a cache hit on submission.
func (c *Collector) RecordDeduplicated() {
	c.jobsDeduplicated.Inc()
}

// RecordCancelled records jobs unwound by a cascade.
func (c *Collector) RecordCancelled(count int) {
	c.jobsCancelled.Add(float64(count))
}

// RecordPollRejected records an admission-control rejection.
func (c *Collector) RecordPollRejected() {
	c.pollsRejected.Inc()
}

// RecordPollDuration records the wall time of a completed poll.
func (c *Collector) RecordPollDuration(seconds float64) {
	c.pollDuration.Observe(seconds)
}

// ModuleRegistered moves the registered-module gauge up.
func (c *Collector) ModuleRegistered() { c.registeredMods.Inc() }

// ModuleUnregistered moves the registered-module gauge down.
func (c *Collector) ModuleUnregistered() { c.registeredMods.Dec() }

// PollerEntered moves the in-flight poller gauge up.
func (c *Collector) PollerEntered() { c.pollingClients.Inc() }

// PollerLeft moves the in-flight poller gauge down.
func (c *Collector) PollerLeft() { c.pollingClients.Dec() }

// Handler serves this collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
