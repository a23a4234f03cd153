package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.OptimizeInterval = 0 }},
		{"negative interval", func(c *Config) { c.OptimizeInterval = -time.Second }},
		{"zero cache size", func(c *Config) { c.CacheMaxEntries = 0 }},
		{"zero ttl", func(c *Config) { c.CacheDefaultTTL = 0 }},
		{"zero hot set", func(c *Config) { c.HotSetCapacity = 0 }},
		{"negative min rps", func(c *Config) { c.MemoizeMinRPS = -1 }},
		{"error rate above one", func(c *Config) { c.MemoizeMaxErrorRate = 1.5 }},
		{"zero route ttl", func(c *Config) { c.MemoizeTTL = map[string]time.Duration{"GET /a": 0} }},
		{"negative weight", func(c *Config) { c.HeatWeights.Latency = -0.1 }},
		{"all weights zero", func(c *Config) { c.HeatWeights = HeatWeights{} }},
		{"alpha zero", func(c *Config) { c.EWMAAlpha = 0 }},
		{"alpha above one", func(c *Config) { c.EWMAAlpha = 1.1 }},
		{"tiny trend window", func(c *Config) { c.TrendWindow = 2 }},
		{"zero z threshold", func(c *Config) { c.ZScoreThreshold = 0 }},
		{"one prediction sample", func(c *Config) { c.MinPredictionSamples = 1 }},
		{"zero latency window", func(c *Config) { c.LatencyWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigUnmarshalYAML(t *testing.T) {
	cfg := DefaultConfig()
	doc := `
optimize_interval: 5s
cache_default_ttl: 500ms
hot_set_capacity: 8
predictor_enabled: false
memoize_ttl:
  GET /reports: 2m
heat_weights:
  rps: 0.7
  latency: 0.2
  error_rate: 0.1
`
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	assert.Equal(t, 5*time.Second, cfg.OptimizeInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.CacheDefaultTTL)
	assert.Equal(t, 8, cfg.HotSetCapacity)
	assert.False(t, cfg.PredictorEnabled)
	assert.Equal(t, 0.7, cfg.HeatWeights.RPS)
	assert.Equal(t, 2*time.Minute, cfg.MemoizeTTL["GET /reports"])
	// keys absent from the document keep their defaults
	assert.Equal(t, 500, cfg.CacheMaxEntries)
	assert.True(t, cfg.AutoMemoizeEnabled)
}

func TestConfigUnmarshalYAMLBadDuration(t *testing.T) {
	cfg := DefaultConfig()
	err := yaml.Unmarshal([]byte("optimize_interval: fast"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimize_interval")
}

func TestConfigValidateNeverClamps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EWMAAlpha = 3.0
	assert.Error(t, cfg.Validate())
	// the value is untouched: rejection, not correction
	assert.Equal(t, 3.0, cfg.EWMAAlpha)
}
