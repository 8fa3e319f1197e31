package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the telemetry of a pineapple process.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string // deployment environment of the process, not a model environment

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level        string // zerolog level name, or "disabled"
	Format       string // console or json
	Output       string // stderr, stdout or a file path
	TimeFormat   string // rfc3339, unix, unixms or unixmicro
	EnableCaller bool

	// Sampling keeps the first SamplingInitial messages of each second and
	// every SamplingThereafter-th message after that.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled            bool
	Exporter           string // otlp, stdout or none
	Endpoint           string // host:port of the OTLP collector
	Insecure           bool
	Headers            map[string]string
	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Path      string

	// ListenAddress starts a dedicated metrics listener. The API server
	// serves the registry regardless.
	ListenAddress string

	DefaultHistogramBuckets []float64
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	Enabled       bool
	EnableAsync   bool
	BufferSize    int
	MaxBatchSize  int
	FlushInterval time.Duration
}

// DefaultConfig logs to stderr in console format, creates spans without
// exporting them and dispatches events in the background.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pineapple",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			TimeFormat:         "rfc3339",
			SamplingInitial:    100,
			SamplingThereafter: 100,
		},
		Tracing: TracingConfig{
			Enabled:            true,
			Exporter:           "none",
			Insecure:           true,
			Headers:            map[string]string{},
			SamplingRate:       1,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			Namespace:               "pineapple",
			Path:                    "/metrics",
			DefaultHistogramBuckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		Events: EventsConfig{
			Enabled:       true,
			EnableAsync:   true,
			BufferSize:    1000,
			MaxBatchSize:  100,
			FlushInterval: 5 * time.Second,
		},
	}
}

// ProductionConfig logs JSON with sampling and exports a tenth of the
// traces over OTLP. The collector endpoint must still be set.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.TimeFormat = "unix"
	cfg.Logging.EnableSampling = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Insecure = false
	cfg.Tracing.SamplingRate = 0.1
	return cfg
}

// DevelopmentConfig logs at debug level with callers.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	return cfg
}

// Environment variables read by ApplyEnv.
const (
	EnvLogLevel     = "LOG_LEVEL"
	EnvLogFormat    = "PINEAPPLE_LOG_FORMAT"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvMetricsAddr  = "PINEAPPLE_METRICS_ADDR"
)

// ApplyEnv overrides settings from environment variables. An OTLP endpoint
// switches the trace exporter to otlp.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := getenv(EnvLogFormat); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := getenv(EnvOTLPEndpoint); v != "" {
		c.Tracing.Enabled = true
		c.Tracing.Exporter = "otlp"
		c.Tracing.Endpoint = v
	}
	if v := getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddress = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil || c.Logging.Level == "" {
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			errs = append(errs, fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter))
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			errs = append(errs, errors.New("otlp exporter requires an endpoint"))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate))
	}

	// The listen address is optional; the API server also serves the registry.
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		errs = append(errs, errors.New("metrics path is required when metrics are enabled"))
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize))
	}

	return errors.Join(errs...)
}
