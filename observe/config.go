package observe

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/caarlos0/env/v10"
)

// Default exporter tuning.
const (
	DefaultSamplePct         = 1.0
	DefaultMaxTagValueLength = 1024
	DefaultMaxTagCount       = 128
	DefaultMaxEventCount     = 128
	DefaultMaxLinkCount      = 128
	DefaultBatchSize         = 100
	DefaultExportTimeout     = 30 * time.Second
	DefaultExportInterval    = time.Minute
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string `env:"SERVICE_NAME"`
	Version     string `env:"SERVICE_VERSION"`
	Namespace   string `env:"SERVICE_NAMESPACE"`
	InstanceID  string `env:"SERVICE_INSTANCE_ID"`

	// Attributes are stamped on every span and measurement as service.<key>.
	Attributes map[string]string `env:"SERVICE_ATTRIBUTES"`

	OTLP    OTLPConfig    `envPrefix:"OTLP_"`
	Tracing TracingConfig `envPrefix:"TRACING_"`
	Metrics MetricsConfig `envPrefix:"METRICS_"`
	Logging LoggingConfig `envPrefix:"LOG_"`
}

// OTLPConfig addresses the collector used by the otlp, otlphttp and jaeger
// exporters. An empty Endpoint defers to the OTEL_EXPORTER_OTLP_* variables.
type OTLPConfig struct {
	Endpoint string            `env:"ENDPOINT"`
	Headers  map[string]string `env:"HEADERS"`
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool    `env:"ENABLED"`
	Exporter  string  `env:"EXPORTER"`   // otlp|otlphttp|jaeger|stdout|none
	SamplePct float64 `env:"SAMPLE_PCT"` // 0.0-1.0

	MaxTagValueLength int `env:"MAX_TAG_VALUE_LENGTH"`
	MaxTagCount       int `env:"MAX_TAG_COUNT"`
	MaxEventCount     int `env:"MAX_EVENT_COUNT"`
	MaxLinkCount      int `env:"MAX_LINK_COUNT"`

	BatchSize     int           `env:"BATCH_SIZE"`
	ExportTimeout time.Duration `env:"EXPORT_TIMEOUT"`
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool   `env:"ENABLED"`
	Exporter string `env:"EXPORTER"` // otlp|otlphttp|prometheus|stdout|none

	ExportInterval time.Duration `env:"EXPORT_INTERVAL"`
	ExportTimeout  time.Duration `env:"EXPORT_TIMEOUT"`
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool   `env:"ENABLED"`
	Level   string `env:"LEVEL"`  // debug|info|warn|error
	Format  string `env:"FORMAT"` // json|console
}

// DefaultConfig returns a configuration with every subsystem enabled and
// nothing exported. ServiceName must still be set.
func DefaultConfig() Config {
	return Config{
		Version: "1.0.0",
		Tracing: TracingConfig{
			Enabled:           true,
			Exporter:          "none",
			SamplePct:         DefaultSamplePct,
			MaxTagValueLength: DefaultMaxTagValueLength,
			MaxTagCount:       DefaultMaxTagCount,
			MaxEventCount:     DefaultMaxEventCount,
			MaxLinkCount:      DefaultMaxLinkCount,
			BatchSize:         DefaultBatchSize,
			ExportTimeout:     DefaultExportTimeout,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Exporter:       "none",
			ExportInterval: DefaultExportInterval,
			ExportTimeout:  DefaultExportTimeout,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Format:  "json",
		},
	}
}

// ConfigFromEnv returns DefaultConfig overridden by OBSERVE_* variables, for
// example OBSERVE_SERVICE_NAME, OBSERVE_TRACING_EXPORTER or OBSERVE_LOG_LEVEL.
// The result is not validated.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "OBSERVE_"}); err != nil {
		return Config{}, fmt.Errorf("observe: parse environment: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	if c.OTLP.Endpoint != "" {
		u, err := url.Parse(c.OTLP.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidEndpoint, c.OTLP.Endpoint)
		}
	}

	if c.Tracing.Enabled {
		if !slices.Contains(ValidTracingExporters, c.Tracing.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, c.Tracing.Exporter)
		}
		if c.Tracing.SamplePct < MinSamplePct || c.Tracing.SamplePct > MaxSamplePct {
			return fmt.Errorf("%w: got %f", ErrInvalidSamplePct, c.Tracing.SamplePct)
		}
		if c.Tracing.MaxTagValueLength < 0 || c.Tracing.MaxTagCount < 0 ||
			c.Tracing.MaxEventCount < 0 || c.Tracing.MaxLinkCount < 0 ||
			c.Tracing.BatchSize < 0 || c.Tracing.ExportTimeout < 0 {
			return fmt.Errorf("%w: tracing limits must not be negative", ErrInvalidLimit)
		}
	}

	if c.Metrics.Enabled {
		if !slices.Contains(ValidMetricsExporters, c.Metrics.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, c.Metrics.Exporter)
		}
		if c.Metrics.ExportInterval < 0 || c.Metrics.ExportTimeout < 0 {
			return fmt.Errorf("%w: metrics export interval and timeout must not be negative", ErrInvalidLimit)
		}
	}

	if c.Logging.Enabled {
		if !slices.Contains(ValidLogLevels, c.Logging.Level) {
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
		}
		if !slices.Contains(ValidLogFormats, c.Logging.Format) {
			return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
		}
	}

	return nil
}

// Identity returns the service identity described by the configuration.
func (c *Config) Identity() Identity {
	return Identity{
		ServiceName: c.ServiceName,
		Version:     c.Version,
		Namespace:   c.Namespace,
		InstanceID:  c.InstanceID,
		Attributes:  c.Attributes,
	}
}
