// File: internal/metrics/metrics.go

// Package metrics collects driver-side instrumentation on a package-local
// prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the driver's instruments. All instruments are registered
// on the registry returned by Registry, never on the default one, so tests
// can construct collectors freely.
type Collector struct {
	registry *prometheus.Registry

	stepsTotal      *prometheus.CounterVec
	actionsTotal    *prometheus.CounterVec
	llmRequests     *prometheus.CounterVec
	llmSeconds      prometheus.Histogram
	snapshotSeconds prometheus.Histogram
}

// NewCollector builds a Collector with its own registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Agent loop steps executed, by mode.",
		},
		[]string{"mode"},
	)

	c.actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions dispatched, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	c.llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Chat completions issued, by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	c.llmSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_seconds",
			Help:      "Wall time of one chat completion.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	c.snapshotSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_seconds",
			Help:      "Wall time of one full page snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	c.registry.MustRegister(
		c.stepsTotal,
		c.actionsTotal,
		c.llmRequests,
		c.llmSeconds,
		c.snapshotSeconds,
	)
	return c
}

// Registry exposes the collector's registry for an exporter to scrape.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveStep counts one loop step in the given mode.
func (c *Collector) ObserveStep(mode string) {
	c.stepsTotal.WithLabelValues(mode).Inc()
}

// ObserveAction counts one dispatched action.
func (c *Collector) ObserveAction(actionType string, success bool) {
	c.actionsTotal.WithLabelValues(actionType, outcome(success)).Inc()
}

// ObserveLLMRequest counts one chat completion and records its latency.
func (c *Collector) ObserveLLMRequest(provider string, success bool, elapsed time.Duration) {
	c.llmRequests.WithLabelValues(provider, outcome(success)).Inc()
	c.llmSeconds.Observe(elapsed.Seconds())
}

// ObserveSnapshot records the latency of one page snapshot.
func (c *Collector) ObserveSnapshot(elapsed time.Duration) {
	c.snapshotSeconds.Observe(elapsed.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
