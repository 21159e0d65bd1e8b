// Package metrics exposes the limit-check flow as Prometheus collectors on a
// private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/fincore/creditcheck-go/internal/reliability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements messaging.MetricsCollector and
// reliability.StateChangeListener
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	lateResponses   prometheus.Counter
	decisionsTotal  *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// NewCollector creates a collector; namespace defaults to "creditcheck"
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "creditcheck"
	}

	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request_reply",
			Name:      "requests_total",
			Help:      "Request/reply calls by outcome",
		},
		[]string{"outcome"},
	)

	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "request_reply",
			Name:      "request_duration_seconds",
			Help:      "Time from registering a call to its resolution",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"outcome"},
	)

	c.lateResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request_reply",
			Name:      "late_responses_total",
			Help:      "Replies dropped because no call was waiting for them",
		},
	)

	c.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "limit",
			Name:      "decisions_total",
			Help:      "Credit limit decisions made by the evaluator",
		},
		[]string{"decision"},
	)

	c.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.lateResponses,
		c.decisionsTotal,
		c.breakerState,
		collectors.NewGoCollector(),
	)

	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordRequest records one resolved call
func (c *Collector) RecordRequest(outcome string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(outcome).Inc()
	c.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordLateResponse counts a reply nobody was waiting for
func (c *Collector) RecordLateResponse() {
	c.lateResponses.Inc()
}

// RecordDecision counts an evaluator decision
func (c *Collector) RecordDecision(approved bool) {
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	c.decisionsTotal.WithLabelValues(decision).Inc()
}

// OnStateChange tracks circuit breaker transitions
func (c *Collector) OnStateChange(name string, from, to reliability.State) {
	c.breakerState.WithLabelValues(name).Set(float64(to))
}

// TrackPending exports the current number of outstanding calls, read from
// pending at scrape time. Call it once per collector.
func (c *Collector) TrackPending(pending func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "request_reply",
			Name:      "pending_requests",
			Help:      "Calls currently waiting for a reply",
		},
		func() float64 { return float64(pending()) },
	))
}
