package metrics

import "time"

// BrokerMetrics observes dispatched requests. Nil disables collection.
type BrokerMetrics interface {
	// ObserveRequest records one handled request with its action tag,
	// outcome and wall-clock duration.
	ObserveRequest(action string, success bool, duration time.Duration)
}

// NewBrokerMetrics returns the prometheus-backed instruments, or nil when
// metrics are disabled.
func NewBrokerMetrics() BrokerMetrics {
	if !IsEnabled() || newPrometheusBrokerMetrics == nil {
		return nil
	}
	return newPrometheusBrokerMetrics()
}

var newPrometheusBrokerMetrics func() BrokerMetrics

// RegisterBrokerMetricsConstructor is called by the prometheus subpackage
// during package initialization.
func RegisterBrokerMetricsConstructor(constructor func() BrokerMetrics) {
	newPrometheusBrokerMetrics = constructor
}
