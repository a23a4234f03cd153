package adaptive

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// HeatWeights are the heat-score term weights. All three terms push the
// score upward: a route that is busy, slow, or failing ranks higher.
type HeatWeights struct {
	RPS       float64 `yaml:"rps"`
	Latency   float64 `yaml:"latency"`
	ErrorRate float64 `yaml:"error_rate"`
}

// Config is the full tuning surface of the adaptive engine.
type Config struct {
	// OptimizeInterval is the period of the decision cycle.
	OptimizeInterval time.Duration `yaml:"optimize_interval"`

	// Response cache bounds.
	CacheMaxEntries int           `yaml:"cache_max_entries"`
	CacheDefaultTTL time.Duration `yaml:"cache_default_ttl"`

	// HotSetCapacity bounds the number of fast-path route slots.
	HotSetCapacity int `yaml:"hot_set_capacity"`

	// Feature switches.
	MiddlewareReorderEnabled bool `yaml:"middleware_reorder_enabled"`
	PredictorEnabled         bool `yaml:"predictor_enabled"`
	AutoMemoizeEnabled       bool `yaml:"auto_memoize_enabled"`

	// Auto-memoize gates, re-evaluated every cycle.
	MemoizeMinRPS       float64 `yaml:"memoize_min_rps"`
	MemoizeMaxErrorRate float64 `yaml:"memoize_max_error_rate"`
	MemoizeMinSamples   uint64  `yaml:"memoize_min_samples"`

	// MemoizeTTL overrides the cache TTL for individual routes, keyed by
	// "METHOD /path". Routes without an entry use CacheDefaultTTL.
	MemoizeTTL map[string]time.Duration `yaml:"memoize_ttl"`

	// WatchMinSamples is the cold -> watched threshold.
	WatchMinSamples uint64 `yaml:"watch_min_samples"`

	// Heat-score weights.
	HeatWeights HeatWeights `yaml:"heat_weights"`

	// Predictor tuning.
	EWMAAlpha            float64 `yaml:"ewma_alpha"`
	TrendWindow          int     `yaml:"trend_window"`
	ZScoreThreshold      float64 `yaml:"zscore_threshold"`
	MinPredictionSamples int     `yaml:"min_prediction_samples"`

	// LatencyWindow is the per-route rolling latency window size
	// used for percentile estimation.
	LatencyWindow int `yaml:"latency_window"`
}

// DefaultConfig returns the engine defaults. The memoize gates mirror the
// conservative profile: 5 rps sustained, under 2% errors, 50 samples.
func DefaultConfig() Config {
	return Config{
		OptimizeInterval:         10 * time.Second,
		CacheMaxEntries:          500,
		CacheDefaultTTL:          30 * time.Second,
		HotSetCapacity:           20,
		MiddlewareReorderEnabled: true,
		PredictorEnabled:         true,
		AutoMemoizeEnabled:       true,
		MemoizeMinRPS:            5.0,
		MemoizeMaxErrorRate:      0.02,
		MemoizeMinSamples:        50,
		WatchMinSamples:          10,
		HeatWeights:              HeatWeights{RPS: 0.5, Latency: 0.3, ErrorRate: 0.2},
		EWMAAlpha:                0.3,
		TrendWindow:              30,
		ZScoreThreshold:          2.5,
		MinPredictionSamples:     10,
		LatencyWindow:            1000,
	}
}

// UnmarshalYAML decodes a config section on top of the receiver's
// current values, so keys absent from the document keep their defaults.
// Durations are written in Go syntax ("10s", "500ms").
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		OptimizeInterval         *string           `yaml:"optimize_interval"`
		CacheMaxEntries          *int              `yaml:"cache_max_entries"`
		CacheDefaultTTL          *string           `yaml:"cache_default_ttl"`
		HotSetCapacity           *int              `yaml:"hot_set_capacity"`
		MiddlewareReorderEnabled *bool             `yaml:"middleware_reorder_enabled"`
		PredictorEnabled         *bool             `yaml:"predictor_enabled"`
		AutoMemoizeEnabled       *bool             `yaml:"auto_memoize_enabled"`
		MemoizeMinRPS            *float64          `yaml:"memoize_min_rps"`
		MemoizeMaxErrorRate      *float64          `yaml:"memoize_max_error_rate"`
		MemoizeMinSamples        *uint64           `yaml:"memoize_min_samples"`
		MemoizeTTL               map[string]string `yaml:"memoize_ttl"`
		WatchMinSamples          *uint64           `yaml:"watch_min_samples"`
		HeatWeights              *HeatWeights      `yaml:"heat_weights"`
		EWMAAlpha                *float64          `yaml:"ewma_alpha"`
		TrendWindow              *int              `yaml:"trend_window"`
		ZScoreThreshold          *float64          `yaml:"zscore_threshold"`
		MinPredictionSamples     *int              `yaml:"min_prediction_samples"`
		LatencyWindow            *int              `yaml:"latency_window"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.OptimizeInterval != nil {
		d, err := time.ParseDuration(*raw.OptimizeInterval)
		if err != nil {
			return fmt.Errorf("adaptive: optimize_interval: %w", err)
		}
		c.OptimizeInterval = d
	}
	if raw.CacheDefaultTTL != nil {
		d, err := time.ParseDuration(*raw.CacheDefaultTTL)
		if err != nil {
			return fmt.Errorf("adaptive: cache_default_ttl: %w", err)
		}
		c.CacheDefaultTTL = d
	}
	if raw.CacheMaxEntries != nil {
		c.CacheMaxEntries = *raw.CacheMaxEntries
	}
	if raw.HotSetCapacity != nil {
		c.HotSetCapacity = *raw.HotSetCapacity
	}
	if raw.MiddlewareReorderEnabled != nil {
		c.MiddlewareReorderEnabled = *raw.MiddlewareReorderEnabled
	}
	if raw.PredictorEnabled != nil {
		c.PredictorEnabled = *raw.PredictorEnabled
	}
	if raw.AutoMemoizeEnabled != nil {
		c.AutoMemoizeEnabled = *raw.AutoMemoizeEnabled
	}
	if raw.MemoizeMinRPS != nil {
		c.MemoizeMinRPS = *raw.MemoizeMinRPS
	}
	if raw.MemoizeMaxErrorRate != nil {
		c.MemoizeMaxErrorRate = *raw.MemoizeMaxErrorRate
	}
	if raw.MemoizeMinSamples != nil {
		c.MemoizeMinSamples = *raw.MemoizeMinSamples
	}
	if raw.MemoizeTTL != nil {
		c.MemoizeTTL = make(map[string]time.Duration, len(raw.MemoizeTTL))
		for route, s := range raw.MemoizeTTL {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("adaptive: memoize_ttl[%q]: %w", route, err)
			}
			c.MemoizeTTL[route] = d
		}
	}
	if raw.WatchMinSamples != nil {
		c.WatchMinSamples = *raw.WatchMinSamples
	}
	if raw.HeatWeights != nil {
		c.HeatWeights = *raw.HeatWeights
	}
	if raw.EWMAAlpha != nil {
		c.EWMAAlpha = *raw.EWMAAlpha
	}
	if raw.TrendWindow != nil {
		c.TrendWindow = *raw.TrendWindow
	}
	if raw.ZScoreThreshold != nil {
		c.ZScoreThreshold = *raw.ZScoreThreshold
	}
	if raw.MinPredictionSamples != nil {
		c.MinPredictionSamples = *raw.MinPredictionSamples
	}
	if raw.LatencyWindow != nil {
		c.LatencyWindow = *raw.LatencyWindow
	}
	return nil
}

// Validate rejects invalid configuration with a descriptive error.
// Invalid values are never silently clamped.
func (c Config) Validate() error {
	if c.OptimizeInterval <= 0 {
		return fmt.Errorf("adaptive: optimize_interval must be positive, got %v", c.OptimizeInterval)
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("adaptive: cache_max_entries must be positive, got %d", c.CacheMaxEntries)
	}
	if c.CacheDefaultTTL <= 0 {
		return fmt.Errorf("adaptive: cache_default_ttl must be positive, got %v", c.CacheDefaultTTL)
	}
	if c.HotSetCapacity <= 0 {
		return fmt.Errorf("adaptive: hot_set_capacity must be positive, got %d", c.HotSetCapacity)
	}
	if c.MemoizeMinRPS < 0 {
		return fmt.Errorf("adaptive: memoize_min_rps must not be negative, got %g", c.MemoizeMinRPS)
	}
	if c.MemoizeMaxErrorRate < 0 || c.MemoizeMaxErrorRate > 1 {
		return fmt.Errorf("adaptive: memoize_max_error_rate must be in [0,1], got %g", c.MemoizeMaxErrorRate)
	}
	for route, ttl := range c.MemoizeTTL {
		if ttl <= 0 {
			return fmt.Errorf("adaptive: memoize_ttl[%q] must be positive, got %v", route, ttl)
		}
	}
	if c.HeatWeights.RPS < 0 || c.HeatWeights.Latency < 0 || c.HeatWeights.ErrorRate < 0 {
		return fmt.Errorf("adaptive: heat weights must not be negative, got %+v", c.HeatWeights)
	}
	if c.HeatWeights.RPS+c.HeatWeights.Latency+c.HeatWeights.ErrorRate == 0 {
		return fmt.Errorf("adaptive: at least one heat weight must be positive")
	}
	if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		return fmt.Errorf("adaptive: ewma_alpha must be in (0,1], got %g", c.EWMAAlpha)
	}
	if c.TrendWindow < 3 {
		return fmt.Errorf("adaptive: trend_window must be at least 3, got %d", c.TrendWindow)
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("adaptive: zscore_threshold must be positive, got %g", c.ZScoreThreshold)
	}
	if c.MinPredictionSamples < 2 {
		return fmt.Errorf("adaptive: min_prediction_samples must be at least 2, got %d", c.MinPredictionSamples)
	}
	if c.LatencyWindow <= 0 {
		return fmt.Errorf("adaptive: latency_window must be positive, got %d", c.LatencyWindow)
	}
	return nil
}
