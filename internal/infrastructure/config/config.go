package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds recognised in connection configuration.
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Config is the root configuration structure for bridgemux.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Connections []ConnectionConfig `yaml:"connections"`
	Logging     LoggingConfig      `yaml:"logging"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
}

// ConnectionConfig describes one broker endpoint the daemon should hold open.
type ConnectionConfig struct {
	Name      string     `yaml:"name"`
	URL       string     `yaml:"url"`
	Transport string     `yaml:"transport"`
	ClientID  string     `yaml:"client_id"`
	Auto      AutoConfig `yaml:"auto_connect"`
	Auth      AuthConfig `yaml:"auth"`
}

// AutoConfig contains auto-connect and reconnection settings.
//
// TimeoutMs is the fixed delay between a connection error and the next
// reconnection attempt. There is no bounded retry count; attempts continue
// until the connection becomes dormant or succeeds.
type AutoConfig struct {
	Enabled   bool `yaml:"enabled"`
	TimeoutMs int  `yaml:"timeout_ms"`
}

// AuthConfig contains broker authentication settings.
// The credential payload itself is computed by an external provider;
// bridgemux only forwards these fields.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	User    string `yaml:"user"`
	Secret  string `yaml:"secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TelemetryConfig contains InfluxDB telemetry settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BRIDGEMUX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGEMUX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BRIDGEMUX_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BRIDGEMUX_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}

	// Broker secret applies to every connection that has authentication
	// enabled but no secret in the file. Secrets belong in the environment,
	// not in config files checked into version control.
	if v := os.Getenv("BRIDGEMUX_AUTH_SECRET"); v != "" {
		for i := range cfg.Connections {
			if cfg.Connections[i].Auth.Enabled && cfg.Connections[i].Auth.Secret == "" {
				cfg.Connections[i].Auth.Secret = v
			}
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	seen := make(map[string]struct{}, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.Name == "" {
			errs = append(errs, fmt.Sprintf("connections[%d].name is required", i))
		}
		if conn.URL == "" {
			errs = append(errs, fmt.Sprintf("connections[%d].url is required", i))
		}
		if _, dup := seen[conn.Name]; dup && conn.Name != "" {
			errs = append(errs, fmt.Sprintf("connections[%d].name %q is duplicated", i, conn.Name))
		}
		seen[conn.Name] = struct{}{}

		switch conn.Transport {
		case TransportWebSocket, TransportMQTT:
		case "":
			errs = append(errs, fmt.Sprintf("connections[%d].transport is required (websocket or mqtt)", i))
		default:
			errs = append(errs, fmt.Sprintf("connections[%d].transport %q is not recognised", i, conn.Transport))
		}

		if conn.Auto.Enabled && conn.Auto.TimeoutMs <= 0 {
			errs = append(errs, fmt.Sprintf("connections[%d].auto_connect.timeout_ms must be positive", i))
		}
		if conn.Auth.Enabled && conn.Auth.User == "" {
			errs = append(errs, fmt.Sprintf("connections[%d].auth.user is required when auth is enabled", i))
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not recognised", c.Logging.Level))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Bucket == "" {
			errs = append(errs, "telemetry.bucket is required when telemetry is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AutoConnectTimeout returns the reconnection delay as a Duration.
func (c ConnectionConfig) AutoConnectTimeout() time.Duration {
	return time.Duration(c.Auto.TimeoutMs) * time.Millisecond
}
