package metrics

// PoolMetrics publishes session pool counters. Nil disables collection.
type PoolMetrics interface {
	// ObservePool records a snapshot of the pool counters.
	ObservePool(active, idle int, totalCreated, exhausted uint64)
}

// NewPoolMetrics returns the prometheus-backed instruments, or nil when
// metrics are disabled.
func NewPoolMetrics() PoolMetrics {
	if !IsEnabled() || newPrometheusPoolMetrics == nil {
		return nil
	}
	return newPrometheusPoolMetrics()
}

var newPrometheusPoolMetrics func() PoolMetrics

// RegisterPoolMetricsConstructor is called by the prometheus subpackage
// during package initialization.
func RegisterPoolMetricsConstructor(constructor func() PoolMetrics) {
	newPrometheusPoolMetrics = constructor
}
