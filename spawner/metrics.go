package spawner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for one butler's Spawner.
// The instruments are registered on a caller-supplied Registerer so
// multiple Spawners (one per test, or one per in-process butler) never
// collide on global registration.
type Metrics struct {
	activeSessions  prometheus.Gauge
	queuedTriggers  prometheus.Gauge
	sessionDuration prometheus.Histogram
}

// NewMetrics registers this butler's spawner instruments against reg. Pass
// prometheus.NewRegistry() in tests and the process default registry in
// production. A nil reg leaves the instruments unregistered.
func NewMetrics(reg prometheus.Registerer, butlerName string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"butler": butlerName}
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "butler",
			Name:        "spawner_active_sessions",
			Help:        "Number of LLM sessions currently in flight for this butler.",
			ConstLabels: labels,
		}),
		queuedTriggers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "butler",
			Name:        "spawner_queued_triggers",
			Help:        "Number of triggers waiting for a concurrency slot.",
			ConstLabels: labels,
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "butler",
			Name:        "spawner_session_duration_seconds",
			Help:        "Duration of one LLM session invocation, successful or not.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) activeSessionsInc() { m.activeSessions.Inc() }
func (m *Metrics) activeSessionsDec() { m.activeSessions.Dec() }
func (m *Metrics) queuedTriggersInc() { m.queuedTriggers.Inc() }
func (m *Metrics) queuedTriggersDec() { m.queuedTriggers.Dec() }
func (m *Metrics) recordSessionDuration(d time.Duration) {
	m.sessionDuration.Observe(d.Seconds())
}
