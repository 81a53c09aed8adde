package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pollbridge/internal/log"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable checked during discovery.
const EnvConfigPath = "POLLBRIDGE_CONFIG"

// ErrNoConfig is returned by Discover when no config file exists anywhere.
var ErrNoConfig = errors.New("no config file found")

// Load reads and parses configuration from a file. Values missing from the
// file keep their defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes YAML over the defaults, expands ${VAR} references and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := interpolateEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the discovered config file, or returns the defaults
// when none exists.
func LoadOrDefault(flagPath string) (*Config, error) {
	path, err := Discover(flagPath)
	if errors.Is(err, ErrNoConfig) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// applyConfigDefaults restores defaults for values explicitly emptied in the file.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Bridge.Listen == "" {
		cfg.Bridge.Listen = defaults.Bridge.Listen
	}
	if cfg.Bridge.PollTimeout == 0 {
		cfg.Bridge.PollTimeout = defaults.Bridge.PollTimeout
	}
	if cfg.Bridge.ExecutorIdleGap == 0 {
		cfg.Bridge.ExecutorIdleGap = defaults.Bridge.ExecutorIdleGap
	}
	if cfg.Bridge.MaxBodyBytes == 0 {
		cfg.Bridge.MaxBodyBytes = defaults.Bridge.MaxBodyBytes
	}
	if cfg.Bridge.RecentIDs == 0 {
		cfg.Bridge.RecentIDs = defaults.Bridge.RecentIDs
	}
	if cfg.Forward.MaxInFlight == 0 {
		cfg.Forward.MaxInFlight = defaults.Forward.MaxInFlight
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = defaults.Telemetry.Exporter
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if !log.ValidLevel(cfg.Service.LogLevel) {
		return fmt.Errorf("service.log_level: unknown level %q", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format: must be json or text, got %q", cfg.Service.LogFormat)
	}

	if _, _, err := net.SplitHostPort(cfg.Bridge.Listen); err != nil {
		return fmt.Errorf("bridge.listen: %w", err)
	}
	if cfg.Bridge.PollTimeout < 0 {
		return fmt.Errorf("bridge.poll_timeout must be positive")
	}
	if cfg.Bridge.InvocationTimeout < 0 {
		return fmt.Errorf("bridge.invocation_timeout must not be negative")
	}
	if cfg.Bridge.ExecutorIdleGap < 0 {
		return fmt.Errorf("bridge.executor_idle_gap must be positive")
	}
	if cfg.Bridge.MaxBodyBytes < 0 {
		return fmt.Errorf("bridge.max_body_bytes must be positive")
	}
	if cfg.Bridge.RecentIDs < 0 {
		return fmt.Errorf("bridge.recent_ids must be positive")
	}

	if cfg.Forward.MaxInFlight < 0 {
		return fmt.Errorf("forward.max_in_flight must be positive")
	}
	if cfg.Forward.RequestTimeout < 0 {
		return fmt.Errorf("forward.request_timeout must not be negative")
	}

	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "otlp-http", "otlp", "none":
		default:
			return fmt.Errorf("telemetry.exporter: unknown exporter %q", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1")
		}
	}

	if refs := unresolvedEnvRefs(cfg); len(refs) > 0 {
		return fmt.Errorf("unresolved environment variables: %s", strings.Join(refs, ", "))
	}

	return nil
}

func unresolvedEnvRefs(cfg *Config) []string {
	var refs []string
	for _, v := range []string{cfg.Bridge.Listen, cfg.Journal.Path, cfg.Telemetry.Endpoint, cfg.Service.Name} {
		for _, m := range envVarPattern.FindAllStringSubmatch(v, -1) {
			refs = append(refs, m[1])
		}
	}
	return refs
}
