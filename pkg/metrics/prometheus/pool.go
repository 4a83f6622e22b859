package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/docbroker/pkg/metrics"
)

func init() {
	metrics.RegisterPoolMetricsConstructor(newPoolMetrics)
}

type poolMetrics struct {
	active    prometheus.Gauge
	idle      prometheus.Gauge
	created   prometheus.Gauge
	exhausted prometheus.Gauge
}

func newPoolMetrics() metrics.PoolMetrics {
	reg := metrics.GetRegistry()
	return &poolMetrics{
		active: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "docbroker_pool_sessions_active",
			Help: "Sessions currently out on loan",
		}),
		idle: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "docbroker_pool_sessions_idle",
			Help: "Sessions sitting on the idle list",
		}),
		created: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "docbroker_pool_sessions_created_total",
			Help: "Sessions created since startup",
		}),
		exhausted: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "docbroker_pool_exhausted_total",
			Help: "Acquires rejected because the pool was saturated",
		}),
	}
}

func (m *poolMetrics) ObservePool(active, idle int, totalCreated, exhausted uint64) {
	m.active.Set(float64(active))
	m.idle.Set(float64(idle))
	m.created.Set(float64(totalCreated))
	m.exhausted.Set(float64(exhausted))
}
