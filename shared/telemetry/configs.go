package telemetry

// Predefined service configurations
var (
	// CoordinatorServiceConfig is the telemetry configuration for the saga coordinator
	CoordinatorServiceConfig = Config{
		ServiceName:    "coordinator-service",
		ServiceVersion: "1.0.0",
	}

	// ParticipantServiceConfig is the telemetry configuration for participant services
	ParticipantServiceConfig = Config{
		ServiceName:    "participant-service",
		ServiceVersion: "1.0.0",
	}
)

// WithOTLPEndpoint sets the OTLP endpoint for a config
func (c Config) WithOTLPEndpoint(endpoint string) Config {
	c.OTLPEndpoint = endpoint
	return c
}

// WithServiceName overrides the service name, used when one binary hosts a single participant
func (c Config) WithServiceName(name string) Config {
	c.ServiceName = name
	return c
}
