package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for one butler's Buffer.
type Metrics struct {
	queueDepth        prometheus.Gauge
	backpressureTotal prometheus.Counter
	scannerRecovered  prometheus.Counter
	processLatency    prometheus.Histogram
}

// NewMetrics registers this butler's buffer instruments against reg.
func NewMetrics(reg prometheus.Registerer, butlerName string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"butler": butlerName}
	return &Metrics{
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "butler",
			Name:        "buffer_queue_depth",
			Help:        "Pending plus active items in the durable buffer.",
			ConstLabels: labels,
		}),
		backpressureTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "butler",
			Name:        "buffer_backpressure_total",
			Help:        "Number of times the hot path rejected an enqueue.",
			ConstLabels: labels,
		}),
		scannerRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "butler",
			Name:        "buffer_scanner_recovered_total",
			Help:        "Number of items the recovery scanner re-enqueued.",
			ConstLabels: labels,
		}),
		processLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "butler",
			Name:        "buffer_process_latency_ms",
			Help:        "Per-message process_fn latency in milliseconds.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 16),
		}),
	}
}

func (m *Metrics) depthInc()              { m.queueDepth.Inc() }
func (m *Metrics) depthDec()              { m.queueDepth.Dec() }
func (m *Metrics) backpressureInc()       { m.backpressureTotal.Inc() }
func (m *Metrics) scannerRecoveredInc()   { m.scannerRecovered.Inc() }
func (m *Metrics) observeLatencyMs(ms float64) { m.processLatency.Observe(ms) }
