package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/searchktools/adaptive-server/core/adaptive"
)

// Config holds all application configuration.
type Config struct {
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	Env          string `yaml:"env"`
	LogLevel     string `yaml:"log_level"`

	// MetricsPort serves Prometheus metrics and the adaptive report over
	// a standard net/http listener. 0 disables it.
	MetricsPort int `yaml:"metrics_port"`

	Adaptive adaptive.Config `yaml:"adaptive"`
}

func defaults() *Config {
	return &Config{
		Port:         8080,
		ReadTimeout:  10,
		WriteTimeout: 30,
		Env:          "development",
		LogLevel:     "info",
		MetricsPort:  9090,
		Adaptive:     adaptive.DefaultConfig(),
	}
}

// New loads configuration from flags, an optional YAML file, and env
// overrides (SERVER_PORT, SERVER_METRICS_PORT, SERVER_ENV,
// SERVER_LOG_LEVEL, plus the bare PORT set by platform runners).
// Invalid adaptive settings are rejected.
func New() (*Config, error) {
	cfg := defaults()

	var file string
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.IntVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "HTTP read timeout (seconds)")
	flag.IntVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "HTTP write timeout (seconds)")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Prometheus/report port (0 disables)")
	flag.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug/info/warn/error)")
	flag.StringVar(&file, "config", "", "YAML configuration file")
	flag.Parse()

	if file != "" {
		if err := cfg.loadFile(file); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PORT %q: %w", port, err)
		}
		cfg.Port = p
	}

	if err := cfg.Adaptive.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays SERVER_-prefixed environment variables.
func (c *Config) applyEnv() {
	env := NewManager()
	env.LoadFromEnv("SERVER")
	c.Port = env.GetInt("port", c.Port)
	c.MetricsPort = env.GetInt("metrics.port", c.MetricsPort)
	c.Env = env.GetString("env", c.Env)
	c.LogLevel = env.GetString("log.level", c.LogLevel)
}

// Load reads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Adaptive.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
