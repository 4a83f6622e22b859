package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/docbroker/pkg/metrics"
)

func init() {
	metrics.RegisterQueueMetricsConstructor(newQueueMetrics)
}

type queueMetrics struct {
	batches   *prometheus.CounterVec
	batchSize *prometheus.HistogramVec
	dropped   prometheus.Counter
	depth     prometheus.Gauge
}

func newQueueMetrics() metrics.QueueMetrics {
	reg := metrics.GetRegistry()
	return &queueMetrics{
		batches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbroker_telemetry_batches_total",
				Help: "Flushed telemetry batches by sink",
			},
			[]string{"sink"},
		),
		batchSize: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docbroker_telemetry_batch_size",
				Help:    "Records per flushed telemetry batch",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"sink"},
		),
		dropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "docbroker_telemetry_dropped_total",
			Help: "Metric records dropped on queue saturation",
		}),
		depth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "docbroker_telemetry_queue_depth",
			Help: "Metric records waiting in the queue",
		}),
	}
}

func (m *queueMetrics) ObserveBatch(sink string, size int) {
	m.batches.WithLabelValues(sink).Inc()
	m.batchSize.WithLabelValues(sink).Observe(float64(size))
}

func (m *queueMetrics) AddDropped(n int) {
	m.dropped.Add(float64(n))
}

func (m *queueMetrics) SetDepth(depth int) {
	m.depth.Set(float64(depth))
}
