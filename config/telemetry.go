package config

import (
	"github.com/jonwraymond/tooldelegate/observe"
)

// Telemetry configures logging, tracing and metrics export.
type Telemetry struct {
	ServiceName string `envconfig:"OTEL_SERVICE_NAME" yaml:"service_name"`
	LogLevel    string `envconfig:"LOG_LEVEL" yaml:"log_level"`

	// Debug forces the debug log level.
	Debug bool `envconfig:"DEBUG" yaml:"debug"`

	TracesExporter  string  `envconfig:"OTEL_TRACES_EXPORTER" yaml:"traces_exporter"`
	MetricsExporter string  `envconfig:"OTEL_METRICS_EXPORTER" yaml:"metrics_exporter"`
	SamplePct       float64 `envconfig:"OTEL_TRACES_SAMPLE_PCT" yaml:"sample_pct"`
}

func (t *Telemetry) setDefaults(service string) {
	t.ServiceName = service
	t.LogLevel = "info"
	t.TracesExporter = "none"
	t.MetricsExporter = "none"
	t.SamplePct = 1
}

// Observe returns the observer configuration for version.
func (t Telemetry) Observe(version string) observe.Config {
	level := t.LogLevel
	if t.Debug {
		level = "debug"
	}
	return observe.Config{
		ServiceName: t.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   t.TracesExporter != "none",
			Exporter:  t.TracesExporter,
			SamplePct: t.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  t.MetricsExporter != "none",
			Exporter: t.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   observe.ParseLogLevel(level).String(),
		},
	}
}

// PrometheusEnabled reports whether metrics are served for scraping.
func (t Telemetry) PrometheusEnabled() bool {
	return t.MetricsExporter == "prometheus"
}

func (t Telemetry) validate() error {
	cfg := t.Observe("")
	if err := cfg.Validate(); err != nil {
		return invalid("telemetry: %v", err)
	}
	return nil
}
