package telemetry

import (
	"fmt"
	"io"
	"time"
)

// Config contains the telemetry configuration for a maintenance run.
type Config struct {
	// ServiceName is the name reported in traces.
	ServiceName string

	// ServiceVersion is the version of the binary.
	ServiceVersion string

	// Logging contains run log configuration.
	Logging LoggingConfig

	// Tracing contains tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig

	// Events contains event publishing configuration.
	Events EventsConfig
}

// LoggingConfig configures the per-run log.
type LoggingConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level string

	// Dir is where run log files are written. Empty disables the file.
	Dir string

	// Retain is how many run log files are kept; older ones are pruned.
	Retain int

	// Console, when set, receives a human-readable copy of every entry.
	Console io.Writer

	// ConsoleColor enables ANSI colors on the console copy.
	ConsoleColor bool

	// StartedAt stamps the log file name. Zero means now.
	StartedAt time.Time
}

// TracingConfig configures tracing.
type TracingConfig struct {
	// Exporter selects the span exporter (none, stdout, otlp).
	Exporter string

	// Endpoint is the OTLP gRPC endpoint, e.g. "localhost:4317".
	Endpoint string

	// Insecure disables TLS for the OTLP connection.
	Insecure bool

	// Output receives stdout-exported spans. Defaults to the run log file.
	Output io.Writer

	// ExportTimeout bounds the final flush.
	ExportTimeout time.Duration
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool

	// TextfilePath is the node_exporter textfile collector target.
	// Empty keeps metrics in memory only.
	TextfilePath string

	// Namespace is the metrics namespace prefix.
	Namespace string
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	// Enabled controls whether events are delivered to subscribers.
	Enabled bool
}

// DefaultRetain is the number of run logs and backups kept by default.
const DefaultRetain = 5

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "upkeep",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Dir:    "/var/log/upkeep",
			Retain: DefaultRetain,
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			Insecure:      true,
			ExportTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "upkeep",
		},
		Events: EventsConfig{
			Enabled: true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Retain < 1 {
		return fmt.Errorf("log retention must be at least 1, got: %d", c.Logging.Retain)
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	return nil
}
