package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("BRIDGEMUX_CONFIG")
	defer os.Setenv("BRIDGEMUX_CONFIG", originalEnv)

	os.Setenv("BRIDGEMUX_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_NoEndpoints verifies a clean startup and shutdown with an
// empty endpoint list and telemetry disabled.
func TestRun_NoEndpoints(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
connections: []

telemetry:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("BRIDGEMUX_CONFIG")
	defer os.Setenv("BRIDGEMUX_CONFIG", originalEnv)
	os.Setenv("BRIDGEMUX_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Errorf("run() error = %v, want clean shutdown", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("BRIDGEMUX_CONFIG")
	defer os.Setenv("BRIDGEMUX_CONFIG", originalEnv)

	os.Unsetenv("BRIDGEMUX_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("BRIDGEMUX_CONFIG")
	defer os.Setenv("BRIDGEMUX_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("BRIDGEMUX_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
