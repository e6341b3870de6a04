// Package config loads the foreman configuration from a YAML file with
// code-level defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"foreman/internal/observability"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// Std converts back to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxStreams     int64    `yaml:"max_streams"` // concurrent websocket progress streams
}

// UpdaterConfig bounds the locked-update retry loop.
type UpdaterConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	Multiplier  float64  `yaml:"multiplier"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// MonitorConfig holds the defaults for operation monitoring runs.
type MonitorConfig struct {
	PollInterval       Duration `yaml:"poll_interval"`
	SideEffectInterval Duration `yaml:"side_effect_interval"`
	MaxDuration        Duration `yaml:"max_duration"`
	GracePeriod        Duration `yaml:"grace_period"`
}

// CloudConfig points at the cloud manager's status API.
type CloudConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig                `yaml:"server"`
	Updater UpdaterConfig               `yaml:"updater"`
	Monitor MonitorConfig               `yaml:"monitor"`
	Cloud   CloudConfig                 `yaml:"cloud"`
	Logging LoggingConfig               `yaml:"logging"`
	Metrics observability.MetricsConfig `yaml:"metrics"`
	Tracing observability.TracingConfig `yaml:"tracing"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       8700,
			MaxStreams: 256,
		},
		Updater: UpdaterConfig{
			MaxAttempts: 10,
			BaseDelay:   Duration(200 * time.Millisecond),
			Multiplier:  1.5,
			MaxDelay:    Duration(2 * time.Second),
		},
		Monitor: MonitorConfig{
			PollInterval:       Duration(5 * time.Second),
			SideEffectInterval: Duration(5 * time.Minute),
			MaxDuration:        Duration(30 * time.Minute),
			GracePeriod:        Duration(5 * time.Second),
		},
		Cloud: CloudConfig{
			Timeout: Duration(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Updater.MaxAttempts <= 0 {
		return fmt.Errorf("updater.max_attempts must be positive")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Monitor.MaxDuration <= 0 {
		return fmt.Errorf("monitor.max_duration must be positive")
	}
	return nil
}
