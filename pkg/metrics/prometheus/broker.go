// Package prometheus implements the metrics interfaces with promauto
// instruments on the shared registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/docbroker/pkg/metrics"
)

func init() {
	metrics.RegisterBrokerMetricsConstructor(newBrokerMetrics)
}

type brokerMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newBrokerMetrics() metrics.BrokerMetrics {
	reg := metrics.GetRegistry()
	return &brokerMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docbroker_requests_total",
				Help: "Total handled requests by action and outcome",
			},
			[]string{"action", "outcome"}, // outcome: "ok", "error"
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "docbroker_request_duration_milliseconds",
				Help: "Handler wall-clock duration in milliseconds",
				Buckets: []float64{
					0.5,  // sub-millisecond reads
					1,
					5,
					10,
					50,
					100,  // slow store round-trips
					500,
					1000, // transactions, bulk batches
					5000,
				},
			},
			[]string{"action"},
		),
	}
}

func (m *brokerMetrics) ObserveRequest(action string, success bool, duration time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.requests.WithLabelValues(action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(float64(duration.Microseconds()) / 1000.0)
}
