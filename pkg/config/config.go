// Package config loads and validates the updraft configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/updraft-io/updraft/pkg/telemetry"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" validate:"required"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Update    UpdateConfig    `yaml:"update"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything
	// in-process, which the tests rely on.
	Path string `yaml:"path" validate:"required"`
}

// TelemetryConfig configures logging, metrics, and tracing.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`
	LogOutput string `yaml:"log_output"`

	MetricsEnabled       bool   `yaml:"metrics_enabled"`
	MetricsListenAddress string `yaml:"metrics_listen_address" validate:"required_if=MetricsEnabled true"`

	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string  `yaml:"tracing_endpoint" validate:"required_if=TracingExporter otlp"`
	TracingInsecure bool    `yaml:"tracing_insecure"`
	SamplingRate    float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// UpdateConfig tunes the reconciliation engine.
type UpdateConfig struct {
	// KeepOldDependencies retains inter-deployment dependency edges absent
	// from the new plan. Normally off; set during partial rollbacks.
	KeepOldDependencies bool `yaml:"keep_old_dependencies"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "updraft.db",
		},
		Telemetry: TelemetryConfig{
			LogLevel:             "info",
			LogFormat:            "console",
			LogOutput:            "stderr",
			MetricsListenAddress: ":9090",
			TracingExporter:      "stdout",
			SamplingRate:         1.0,
		},
	}
}

// Load reads the YAML file at path, fills in defaults, and validates. An
// empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = d.Telemetry.LogLevel
	}
	if c.Telemetry.LogFormat == "" {
		c.Telemetry.LogFormat = d.Telemetry.LogFormat
	}
	if c.Telemetry.LogOutput == "" {
		c.Telemetry.LogOutput = d.Telemetry.LogOutput
	}
	if c.Telemetry.MetricsListenAddress == "" {
		c.Telemetry.MetricsListenAddress = d.Telemetry.MetricsListenAddress
	}
	if c.Telemetry.TracingExporter == "" {
		c.Telemetry.TracingExporter = d.Telemetry.TracingExporter
	}
	if c.Telemetry.SamplingRate == 0 {
		c.Telemetry.SamplingRate = d.Telemetry.SamplingRate
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
}

// Validate checks the configuration with struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TelemetryConfig converts to the telemetry package's configuration.
func (c *Config) TelemetryConfig(serviceVersion string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = serviceVersion
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Logging.Output = c.Telemetry.LogOutput
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tc.Metrics.ListenAddress = c.Telemetry.MetricsListenAddress
	tc.Tracing.Enabled = c.Telemetry.TracingEnabled
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	tc.Tracing.Insecure = c.Telemetry.TracingInsecure
	tc.Tracing.SamplingRate = c.Telemetry.SamplingRate
	return tc
}
