package observability

// Config represents the complete observability configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			PrometheusPort: 9090,
		},
	}
}

// Observability bundles the logger and metrics for injection into the
// HTTP layer and the pipeline.
type Observability struct {
	Logger  *Logger
	Metrics *MetricsCollector
}

// New builds the observability stack from configuration and installs the
// resulting logger as the process default.
func New(config Config) (*Observability, error) {
	logger := NewLogger(LogConfig{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
	})
	SetDefaultLogger(logger)

	metrics, err := NewMetricsCollector(config.Metrics)
	if err != nil {
		return nil, err
	}

	return &Observability{
		Logger:  logger,
		Metrics: metrics,
	}, nil
}
