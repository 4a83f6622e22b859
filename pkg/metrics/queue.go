package metrics

// QueueMetrics observes the telemetry queue and its drain worker. Nil
// disables collection.
type QueueMetrics interface {
	// ObserveBatch records one flushed batch and the sink that took it.
	ObserveBatch(sink string, size int)

	// AddDropped counts metric records dropped on queue saturation.
	AddDropped(n int)

	// SetDepth publishes the current queue depth.
	SetDepth(depth int)
}

// NewQueueMetrics returns the prometheus-backed instruments, or nil when
// metrics are disabled.
func NewQueueMetrics() QueueMetrics {
	if !IsEnabled() || newPrometheusQueueMetrics == nil {
		return nil
	}
	return newPrometheusQueueMetrics()
}

var newPrometheusQueueMetrics func() QueueMetrics

// RegisterQueueMetricsConstructor is called by the prometheus subpackage
// during package initialization.
func RegisterQueueMetricsConstructor(constructor func() QueueMetrics) {
	newPrometheusQueueMetrics = constructor
}
