// Package metrics exposes Prometheus instrumentation for the diagnosis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sympfindx"

// Pipeline outcomes
const (
	OutcomeCompleted        = "completed"
	OutcomeRejected         = "rejected"
	OutcomeProtocolError    = "protocol_error"
	OutcomeUnavailable      = "upstream_unavailable"
	OutcomeValidationFailed = "validation_failed"
	OutcomeStorageError     = "storage_error"
)

// Collector holds the pipeline metrics on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry        *prometheus.Registry
	submissions     *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	confidence      prometheus.Histogram
	urgencyLevels   *prometheus.CounterVec
	referrals       prometheus.Counter
	upstreamLatency prometheus.Histogram
	httpRequests    *prometheus.CounterVec
}

// NewCollector creates and registers the pipeline metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}))
	registry.MustRegister(prometheus.NewGoCollector())

	c := &Collector{
		registry: registry,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Diagnosis submissions by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "End-to-end pipeline duration.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "overall_confidence",
			Help:      "Overall confidence of completed records.",
			Buckets:   []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		}),
		urgencyLevels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "urgency_levels_total",
			Help:      "Completed records by urgency level.",
		}, []string{"level"}),
		referrals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "referrals_total",
			Help:      "Completed records that require specialist routing.",
		}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "request_duration_seconds",
			Help:      "Latency of classifier requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(
		c.submissions,
		c.duration,
		c.confidence,
		c.urgencyLevels,
		c.referrals,
		c.upstreamLatency,
		c.httpRequests,
	)
	return c
}

// ObserveSubmission records one pipeline run.
func (c *Collector) ObserveSubmission(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveRecord records the clinical outputs of a completed record.
func (c *Collector) ObserveRecord(confidence float64, urgencyLevel string, referred bool) {
	if c == nil {
		return
	}
	c.confidence.Observe(confidence)
	c.urgencyLevels.WithLabelValues(urgencyLevel).Inc()
	if referred {
		c.referrals.Inc()
	}
}

// ObserveUpstream records the latency of one classifier call.
func (c *Collector) ObserveUpstream(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.upstreamLatency.Observe(elapsed.Seconds())
}

// ObserveHTTP records one served HTTP request.
func (c *Collector) ObserveHTTP(method, route, status string) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, status).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
