package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments named in §4.9: route.accept_latency_ms,
// route.queue_depth, route.process_latency_ms.
type Metrics struct {
	acceptLatency  prometheus.Histogram
	processLatency prometheus.Histogram
	queueDepth     prometheus.Gauge
}

// NewMetrics registers the routing pipeline's instruments against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		acceptLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "route",
			Name:      "accept_latency_ms",
			Help:      "Time from dequeue to dedupe/history/prompt assembly completing.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		processLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "route",
			Name:      "process_latency_ms",
			Help:      "End-to-end routing latency including classifier dispatch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "route",
			Name:      "queue_depth",
			Help:      "Depth of the switchboard's routing queue, as reported by its buffer.",
		}),
	}
}

// SetQueueDepth lets the caller (which owns the buffer.Buffer this pipeline
// drains) publish its depth under the route.queue_depth name.
func (m *Metrics) SetQueueDepth(n float64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(n)
}

func (m *Metrics) observeAccept(ms float64) {
	if m == nil {
		return
	}
	m.acceptLatency.Observe(ms)
}

func (m *Metrics) observeProcess(ms float64) {
	if m == nil {
		return
	}
	m.processLatency.Observe(ms)
}
