package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if cfg.Database.Path != "updraft.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Telemetry.LogLevel != "info" || cfg.Telemetry.LogFormat != "console" {
		t.Errorf("logging defaults = %q/%q", cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	}
	if cfg.Telemetry.SamplingRate != 1.0 {
		t.Errorf("sampling rate = %v, want 1.0", cfg.Telemetry.SamplingRate)
	}
	if cfg.Update.KeepOldDependencies {
		t.Error("keep_old_dependencies must default to off")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/updraft/topology.db
telemetry:
  log_level: debug
  log_format: json
  metrics_enabled: true
  metrics_listen_address: ":9191"
  tracing_enabled: true
  tracing_exporter: otlp
  tracing_endpoint: localhost:4317
  tracing_insecure: true
  sampling_rate: 0.25
update:
  keep_old_dependencies: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.Path != "/var/lib/updraft/topology.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Telemetry.LogLevel != "debug" || cfg.Telemetry.LogFormat != "json" {
		t.Errorf("logging = %q/%q", cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	}
	if cfg.Telemetry.MetricsListenAddress != ":9191" {
		t.Errorf("metrics address = %q", cfg.Telemetry.MetricsListenAddress)
	}
	if cfg.Telemetry.TracingEndpoint != "localhost:4317" || !cfg.Telemetry.TracingInsecure {
		t.Errorf("tracing = %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.SamplingRate != 0.25 {
		t.Errorf("sampling rate = %v", cfg.Telemetry.SamplingRate)
	}
	if !cfg.Update.KeepOldDependencies {
		t.Error("keep_old_dependencies not loaded")
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ":memory:"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Telemetry.LogLevel != "info" {
		t.Errorf("log level = %q, want default info", cfg.Telemetry.LogLevel)
	}
	if cfg.Telemetry.TracingExporter != "stdout" {
		t.Errorf("tracing exporter = %q, want default stdout", cfg.Telemetry.TracingExporter)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "database: [not\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestValidationRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name: "bad log level",
			content: `
telemetry:
  log_level: loud
`,
		},
		{
			name: "bad tracing exporter",
			content: `
telemetry:
  tracing_exporter: jaeger
`,
		},
		{
			name: "otlp without endpoint",
			content: `
telemetry:
  tracing_exporter: otlp
`,
		},
		{
			name: "sampling rate out of range",
			content: `
telemetry:
  sampling_rate: 2.5
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTelemetryConfigConversion(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	cfg.Telemetry.MetricsEnabled = true
	cfg.Telemetry.TracingEnabled = true

	tc := cfg.TelemetryConfig("1.2.3")
	if tc.ServiceVersion != "1.2.3" {
		t.Errorf("service version = %q", tc.ServiceVersion)
	}
	if tc.Logging.Level != "info" || tc.Logging.Format != "console" {
		t.Errorf("logging = %+v", tc.Logging)
	}
	if !tc.Metrics.Enabled || tc.Metrics.ListenAddress != ":9090" {
		t.Errorf("metrics = %+v", tc.Metrics)
	}
	if !tc.Tracing.Enabled || tc.Tracing.Exporter != "stdout" {
		t.Errorf("tracing = %+v", tc.Tracing)
	}
}
