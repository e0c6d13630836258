package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pgping/internal/client"
)

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.Target.Host != "localhost" || config.Target.Port != 5432 {
		t.Errorf("target = %s:%d, want localhost:5432", config.Target.Host, config.Target.Port)
	}
	if config.Target.TLSMode != "prefer" {
		t.Errorf("tls_mode = %q, want prefer", config.Target.TLSMode)
	}
	if config.Target.ConnectTimeout.Duration != 10*time.Second {
		t.Errorf("connect_timeout = %v, want 10s", config.Target.ConnectTimeout.Duration)
	}
	if config.Probe.Interval.Duration != 30*time.Second {
		t.Errorf("probe interval = %v, want 30s", config.Probe.Interval.Duration)
	}
	if config.Logging.Level != "info" {
		t.Errorf("log level = %q, want info", config.Logging.Level)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pgping.yaml")
	content := `
target:
  host: db.internal
  port: 5433
  database: orders
  user: app
  password: s3cret
  tls_mode: require
  connect_timeout: 3s
  params:
    application_name: orders-probe
probe:
  interval: 1m
  telemetry_address: ":9999"
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.Target.Host != "db.internal" || config.Target.Port != 5433 {
		t.Errorf("target = %s:%d", config.Target.Host, config.Target.Port)
	}
	if config.Target.ConnectTimeout.Duration != 3*time.Second {
		t.Errorf("connect_timeout = %v, want 3s", config.Target.ConnectTimeout.Duration)
	}
	if config.Probe.Interval.Duration != time.Minute {
		t.Errorf("interval = %v, want 1m", config.Probe.Interval.Duration)
	}
	if config.Target.Params["application_name"] != "orders-probe" {
		t.Errorf("params = %v", config.Target.Params)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("log level = %q", config.Logging.Level)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_HOST", "10.0.0.5")
	t.Setenv("POSTGRES_PORT", "6432")
	t.Setenv("POSTGRES_USER", "probe")
	t.Setenv("POSTGRES_PASSWORD", "hunter2")
	t.Setenv("PGPING_TLS_MODE", "disable")
	t.Setenv("PGPING_CONNECT_TIMEOUT", "2s")
	t.Setenv("PGPING_LOG_LEVEL", "error")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.Target.Host != "10.0.0.5" || config.Target.Port != 6432 {
		t.Errorf("target = %s:%d", config.Target.Host, config.Target.Port)
	}
	if config.Target.User != "probe" || config.Target.Password != "hunter2" {
		t.Errorf("credentials = %s/%s", config.Target.User, config.Target.Password)
	}
	if config.Target.TLSMode != "disable" {
		t.Errorf("tls_mode = %q", config.Target.TLSMode)
	}
	if config.Target.ConnectTimeout.Duration != 2*time.Second {
		t.Errorf("connect_timeout = %v", config.Target.ConnectTimeout.Duration)
	}
	if config.Logging.Level != "error" {
		t.Errorf("log level = %q", config.Logging.Level)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	clearEnv(t)

	cases := map[string]string{
		"bad tls mode": "target:\n  tls_mode: verify-full\n",
		"bad port":     "target:\n  port: 99999\n",
		"no user":      "target:\n  user: \"\"\n",
		"bad duration": "target:\n  connect_timeout: soon\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	config, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Target.Host != "localhost" {
		t.Errorf("host = %q, want default", config.Target.Host)
	}
}

func TestConnectionParametersConversion(t *testing.T) {
	target := TargetConfig{
		Host:     "db",
		Port:     5432,
		Database: "app",
		User:     "svc",
		Password: "pw",
		TLSMode:  "require",
		Params:   map[string]string{"application_name": "x"},
	}

	params := target.ConnectionParameters()
	if params.TLSMode != client.TLSRequire {
		t.Errorf("tls mode = %q", params.TLSMode)
	}
	if params.Addr() != "db:5432" {
		t.Errorf("addr = %q", params.Addr())
	}
	if params.RuntimeParams["application_name"] != "x" {
		t.Errorf("runtime params = %v", params.RuntimeParams)
	}
}

// clearEnv blanks every variable LoadConfig reads so host environments do
// not leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB",
		"POSTGRES_USER", "POSTGRES_PASSWORD",
		"PGPING_TLS_MODE", "PGPING_CONNECT_TIMEOUT",
		"PGPING_PROBE_INTERVAL", "PGPING_TELEMETRY_ADDRESS",
		"PGPING_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}
