package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Adaptive.OptimizeInterval != 10*time.Second {
		t.Errorf("Expected default optimize interval 10s, got %v", cfg.Adaptive.OptimizeInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
port: 9000
env: production
adaptive:
  optimize_interval: 5s
  hot_set_capacity: 8
  auto_memoize_enabled: false
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("Expected env production, got %s", cfg.Env)
	}
	if cfg.Adaptive.OptimizeInterval != 5*time.Second {
		t.Errorf("Expected optimize interval 5s, got %v", cfg.Adaptive.OptimizeInterval)
	}
	if cfg.Adaptive.HotSetCapacity != 8 {
		t.Errorf("Expected hot set capacity 8, got %d", cfg.Adaptive.HotSetCapacity)
	}
	if cfg.Adaptive.AutoMemoizeEnabled {
		t.Error("Expected auto memoize disabled")
	}
	// Untouched settings keep their defaults
	if cfg.Adaptive.CacheMaxEntries == 0 {
		t.Error("Defaults should survive partial override")
	}
}

func TestLoadRejectsInvalidAdaptive(t *testing.T) {
	_, err := Load(writeConfig(t, `
adaptive:
  ewma_alpha: 3.0
`))
	if err == nil {
		t.Fatal("Expected error for out-of-range alpha")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestManagerLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  name: api
debug: true
`)

	m := NewManager()
	if err := m.LoadFromYAML(path); err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}

	if got := m.GetInt("server.port", 0); got != 8080 {
		t.Errorf("Expected server.port 8080, got %d", got)
	}
	if got := m.GetString("server.name", ""); got != "api" {
		t.Errorf("Expected server.name api, got %s", got)
	}
	if !m.GetBool("debug", false) {
		t.Error("Expected debug true")
	}
}

func TestManagerLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("SERVER_LOG_LEVEL", "debug")
	t.Setenv("OTHER_PORT", "1234")

	m := NewManager()
	m.LoadFromEnv("SERVER")

	if got := m.GetInt("port", 0); got != 9100 {
		t.Errorf("Expected port 9100, got %d", got)
	}
	if got := m.GetString("log.level", ""); got != "debug" {
		t.Errorf("Expected log.level debug, got %s", got)
	}
	if _, exists := m.Get("other.port"); exists {
		t.Error("Unprefixed variable should be skipped")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9200")
	t.Setenv("SERVER_METRICS_PORT", "9300")
	t.Setenv("SERVER_ENV", "production")

	cfg := defaults()
	cfg.applyEnv()

	if cfg.Port != 9200 {
		t.Errorf("Expected port 9200, got %d", cfg.Port)
	}
	if cfg.MetricsPort != 9300 {
		t.Errorf("Expected metrics port 9300, got %d", cfg.MetricsPort)
	}
	if cfg.Env != "production" {
		t.Errorf("Expected env production, got %s", cfg.Env)
	}
	// Untouched settings keep their file/flag values
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level info, got %s", cfg.LogLevel)
	}
}
