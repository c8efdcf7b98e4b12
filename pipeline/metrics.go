package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for background refresh.
type Metrics struct {
	RefreshTotal  *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	BatchDuration prometheus.Histogram
}

// NewMetrics constructs the refresh collectors and registers them on reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	refresh := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_tasks_total",
			Help: "Background refresh tasks by outcome.",
		},
		[]string{"outcome"},
	)
	depth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "refresh_queue_depth",
			Help: "Refresh tasks waiting for a batch.",
		},
	)
	batch := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refresh_batch_duration_seconds",
			Help:    "Wall time of one refresh batch.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
	if reg != nil {
		reg.MustRegister(refresh, depth, batch)
	}
	return &Metrics{
		RefreshTotal:  refresh,
		QueueDepth:    depth,
		BatchDuration: batch,
	}
}

func (m *Metrics) addOutcome(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) observeBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}
