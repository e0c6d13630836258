package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"pgping/internal/client"
)

// Duration wraps time.Duration so YAML values can be written as "10s"
// or "1m30s" instead of raw nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config is the full pgping configuration: the connection target, the
// optional probe loop, and logging.
type Config struct {
	Target  TargetConfig  `yaml:"target"`
	Probe   ProbeConfig   `yaml:"probe"`
	Logging LoggingConfig `yaml:"logging"`
}

// TargetConfig describes the server to handshake with.
type TargetConfig struct {
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Database       string            `yaml:"database"`
	User           string            `yaml:"user"`
	Password       string            `yaml:"password"`
	TLSMode        string            `yaml:"tls_mode"`
	ConnectTimeout Duration          `yaml:"connect_timeout"`
	Params         map[string]string `yaml:"params"`
}

// ProbeConfig controls watch mode: how often to re-run the handshake and
// where to serve Prometheus metrics.
type ProbeConfig struct {
	Interval         Duration `yaml:"interval"`
	TelemetryAddress string   `yaml:"telemetry_address"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads the optional YAML file at configPath, applies
// environment overrides, and validates the result. A missing file is not
// an error; defaults plus environment are enough to run.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{
		Target: TargetConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "postgres",
			User:           "postgres",
			Password:       "",
			TLSMode:        string(client.TLSPrefer),
			ConnectTimeout: Duration{10 * time.Second},
		},
		Probe: ProbeConfig{
			Interval:         Duration{30 * time.Second},
			TelemetryAddress: ":9187",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	loadFromEnv(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

func loadFromEnv(config *Config) {
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		config.Target.Host = host
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Target.Port = p
		}
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		config.Target.Database = db
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		config.Target.User = user
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		config.Target.Password = pass
	}

	if mode := os.Getenv("PGPING_TLS_MODE"); mode != "" {
		config.Target.TLSMode = mode
	}
	if timeout := os.Getenv("PGPING_CONNECT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Target.ConnectTimeout = Duration{d}
		}
	}
	if interval := os.Getenv("PGPING_PROBE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Probe.Interval = Duration{d}
		}
	}
	if addr := os.Getenv("PGPING_TELEMETRY_ADDRESS"); addr != "" {
		config.Probe.TelemetryAddress = addr
	}
	if level := os.Getenv("PGPING_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

func validateConfig(config *Config) error {
	if config.Target.Host == "" {
		return fmt.Errorf("target host is required")
	}
	if config.Target.Port <= 0 || config.Target.Port > 65535 {
		return fmt.Errorf("target port %d is out of range", config.Target.Port)
	}
	if config.Target.User == "" {
		return fmt.Errorf("target user is required")
	}
	if _, err := client.ParseTLSMode(config.Target.TLSMode); err != nil {
		return err
	}
	if config.Target.ConnectTimeout.Duration <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	if config.Probe.Interval.Duration <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	return nil
}

// ConnectionParameters converts the target section into the parameters
// Connect consumes. TLSMode has been validated by LoadConfig.
func (t TargetConfig) ConnectionParameters() client.ConnectionParameters {
	mode, _ := client.ParseTLSMode(t.TLSMode)
	return client.ConnectionParameters{
		Host:          t.Host,
		Port:          t.Port,
		Database:      t.Database,
		User:          t.User,
		Password:      t.Password,
		TLSMode:       mode,
		RuntimeParams: t.Params,
	}
}
