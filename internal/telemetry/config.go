package telemetry

// Config holds the tracing settings handed to Init.
type Config struct {
	Enabled bool

	// ServiceName identifies the broker in the trace backend.
	ServiceName string

	// ServiceVersion is attached to every exported span.
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	// Insecure disables TLS on the exporter connection.
	Insecure bool

	// SampleRate is the head-sampling ratio in [0, 1]. 1 keeps every
	// request trace.
	SampleRate float64
}

// DefaultConfig returns tracing switched off with local-collector defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "docbroker",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
