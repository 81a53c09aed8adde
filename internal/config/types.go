package config

import "time"

// Config represents the complete pollbridge configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Forward   ForwardConfig   `yaml:"forward"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json | text
}

// BridgeConfig controls the HTTP dispatch endpoints and queue behaviour.
type BridgeConfig struct {
	Listen      string        `yaml:"listen"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// InvocationTimeout bounds how long a tool call waits for the executor.
	// Zero means wait until the caller gives up.
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
	ExecutorIdleGap   time.Duration `yaml:"executor_idle_gap"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	RecentIDs         int           `yaml:"recent_ids"`
}

// ForwardConfig controls what happens when another bridge already owns the
// listen address.
type ForwardConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // 0 = no client timeout
}

// JournalConfig controls the sqlite invocation log. An empty path disables it.
type JournalConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Exporter   string  `yaml:"exporter"` // otlp-http | none
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "pollbridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Bridge: BridgeConfig{
			Listen:          "127.0.0.1:44755",
			PollTimeout:     15 * time.Second,
			ExecutorIdleGap: 5 * time.Second,
			MaxBodyBytes:    8 << 20,
			RecentIDs:       1024,
		},
		Forward: ForwardConfig{
			Enabled:     true,
			MaxInFlight: 8,
		},
		Journal: JournalConfig{
			Path:      "./data/journal.db",
			Retention: 7 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			Exporter:   "otlp-http",
			Endpoint:   "localhost:4318",
			SampleRate: 1.0,
		},
	}
}
