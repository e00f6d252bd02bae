package sequence

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "seqd"

// Refill results recorded by MetricsCollector.
const (
	refillOK        = "ok"
	refillExhausted = "exhausted"
	refillFailed    = "failed"
)

// MetricsCollector is a prometheus.Collector for dispenser activity.
// Register it with any prometheus.Registerer; an unregistered collector
// still counts, which is what the bench command reads back.
type MetricsCollector struct {
	dispensed      *prometheus.CounterVec
	errors         *prometheus.CounterVec
	refills        *prometheus.CounterVec
	refillDuration *prometheus.HistogramVec
}

// NewMetricsCollector returns a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		dispensed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "values_dispensed_total",
				Help:      "The number of sequence values handed to callers.",
			}, []string{"sequence"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispense_errors_total",
				Help:      "The number of failed dispense calls by error code.",
			}, []string{"sequence", "code"},
		),
		refills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "chunk_refills_total",
				Help:      "The number of chunk refill attempts by result.",
			}, []string{"sequence", "result"},
		),
		refillDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "chunk_refill_duration_seconds",
				Help:      "The time spent waiting on the chunk store.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}, []string{"sequence"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.dispensed.Describe(ch)
	c.errors.Describe(ch)
	c.refills.Describe(ch)
	c.refillDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.dispensed.Collect(ch)
	c.errors.Collect(ch)
	c.refills.Collect(ch)
	c.refillDuration.Collect(ch)
}

// Dispensed returns the counter of values dispensed for key.
func (c *MetricsCollector) Dispensed(key string) prometheus.Counter {
	return c.dispensed.WithLabelValues(key)
}

// Refills returns the counter of refills for key with the given result.
func (c *MetricsCollector) Refills(key, result string) prometheus.Counter {
	return c.refills.WithLabelValues(key, result)
}

// Errors returns the error counter for key and code.
func (c *MetricsCollector) Errors(key string, code ErrorCode) prometheus.Counter {
	return c.errors.WithLabelValues(key, string(code))
}
