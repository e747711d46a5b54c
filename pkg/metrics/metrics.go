// Package metrics holds the Prometheus collectors shared by the indexer
// components. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bucketsearch"

// Metrics groups the indexer collectors.
type Metrics struct {
	records       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	parseFailures *prometheus.CounterVec
	bulkItems     *prometheus.CounterVec
	flushDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Change records handled, by outcome.",
		}, []string{"outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_requests_total",
			Help:      "Object store requests, by operation and result.",
		}, []string{"op", "result"}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Content that could not be parsed, by format family.",
		}, []string{"family"}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "Bulk actions acknowledged by the search backend, by action and status.",
		}, []string{"action", "status"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent submitting one batch to the search backend.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.records, m.fetches, m.parseFailures, m.bulkItems, m.flushDuration)
	}
	return m
}

// RecordOutcome counts one change record ("indexed", "deleted", "skipped", ...).
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(outcome).Inc()
}

// ObjectRequest counts one object store attempt.
func (m *Metrics) ObjectRequest(op, result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(op, result).Inc()
}

// ParseFailure counts content that extracted to empty text.
func (m *Metrics) ParseFailure(family string) {
	if m == nil {
		return
	}
	m.parseFailures.WithLabelValues(family).Inc()
}

// BulkItem counts one per-item bulk response.
func (m *Metrics) BulkItem(action string, status int) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(action, strconv.Itoa(status)).Inc()
}

// ObserveFlush records the duration of a bulk submission.
func (m *Metrics) ObserveFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
}
