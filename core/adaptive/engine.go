package adaptive

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Token ties a request's start to its completion. It is a small value
// type handed out by OnRequestStart and passed back on OnRequestEnd.
type Token struct {
	Key   RouteKey
	Start time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock injects a clock, used by tests to control TTLs and RPS
// windows.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// Engine is the facade over the adaptive subsystem: traffic recording,
// latency prediction, the periodic optimize cycle and the response cache.
// All request-path methods are safe for concurrent use and do no
// allocation beyond what the recorder needs.
type Engine struct {
	cfg   Config
	log   *zap.Logger
	clock Clock

	recorder  *Recorder
	predictor *Predictor
	cache     *ResponseCache
	optimizer *Optimizer
	reporter  *Reporter

	enabled atomic.Bool
	running atomic.Bool
	cycleMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

// New validates the configuration and builds an engine. Invalid
// configuration is rejected, never clamped.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg: cfg,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = SystemClock()
	}

	e.recorder = NewRecorder(cfg.LatencyWindow, e.clock)
	if cfg.PredictorEnabled {
		e.predictor = NewPredictor(cfg.EWMAAlpha, cfg.TrendWindow, cfg.ZScoreThreshold, cfg.MinPredictionSamples)
	}
	e.cache = NewResponseCache(cfg.CacheMaxEntries, cfg.CacheDefaultTTL, e.clock)
	e.optimizer = NewOptimizer(cfg, e.recorder, NewScorer(cfg.HeatWeights), e.predictor, e.cache, e.log, e.clock)
	e.reporter = NewReporter(e.recorder, e.optimizer, e.predictor, e.cache, e.clock)
	e.enabled.Store(true)
	return e, nil
}

// Start launches the periodic optimize loop. It is a no-op if already
// running.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop()
	e.log.Info("adaptive engine started",
		zap.Duration("interval", e.cfg.OptimizeInterval),
		zap.Int("hot_set_capacity", e.cfg.HotSetCapacity))
}

// Close stops the optimize loop and waits for it to exit.
func (e *Engine) Close() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stop)
	<-e.done
}

func (e *Engine) loop() {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.OptimizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.RunCycle()
		case <-e.stop:
			return
		}
	}
}

// RunCycle executes one optimize cycle immediately. Cycles are
// single-flight: concurrent callers serialize.
func (e *Engine) RunCycle() {
	if !e.enabled.Load() {
		return
	}
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	e.optimizer.RunCycle()
	e.cache.Sweep()
}

// OnRequestStart marks the beginning of a request for the given route
// pattern.
func (e *Engine) OnRequestStart(method, pattern string) Token {
	return Token{Key: RouteKey{Method: method, Path: pattern}, Start: e.clock.Now()}
}

// OnRequestEnd records the request's outcome. Statuses of 400 and above
// count as errors.
func (e *Engine) OnRequestEnd(tok Token, status int) {
	if !e.enabled.Load() {
		return
	}
	latency := e.clock.Now().Sub(tok.Start)
	e.recorder.Record(tok.Key, latency, status)
	if e.predictor != nil {
		e.predictor.Observe(tok.Key, latency)
	}
}

// RecordStage feeds one middleware stage execution into the recorder.
func (e *Engine) RecordStage(name string, cost time.Duration, shortCircuit bool) {
	if !e.enabled.Load() {
		return
	}
	e.recorder.RecordStage(name, cost, shortCircuit)
}

// RegisterStages declares the middleware stages available for
// cost-ordered execution.
func (e *Engine) RegisterStages(stages []StageInfo) {
	e.optimizer.SetStages(stages)
}

// Lookup serves a cached response for a memoized route. It returns false
// when the route is not memoized, the engine is disabled, or the entry is
// missing or expired.
func (e *Engine) Lookup(tok Token, path, query string) (*CachedResponse, bool) {
	if !e.enabled.Load() {
		return nil, false
	}
	if !e.optimizer.Decision().IsMemoized(tok.Key) {
		return nil, false
	}
	return e.cache.Get(e.cache.Key(tok.Key, path, query))
}

// Store caches a successful response for a memoized route. Responses for
// non-memoized routes and statuses of 400 and above are dropped. Routes
// listed in MemoizeTTL get their configured TTL, all others the cache
// default.
func (e *Engine) Store(tok Token, path, query string, resp *CachedResponse) {
	if !e.enabled.Load() || resp == nil || resp.Status >= 400 {
		return
	}
	if !e.optimizer.Decision().IsMemoized(tok.Key) {
		return
	}
	e.cache.Set(e.cache.Key(tok.Key, path, query), tok.Key, resp, e.cfg.MemoizeTTL[tok.Key.String()])
}

// IsHot reports whether a route is currently in the hot set.
func (e *Engine) IsHot(key RouteKey) bool {
	return e.optimizer.Decision().IsHot(key)
}

// State returns the route's current lifecycle state.
func (e *Engine) State(key RouteKey) RouteState {
	return e.optimizer.Decision().State(key)
}

// Decision returns the currently published optimize decision.
func (e *Engine) Decision() *Decision {
	return e.optimizer.Decision()
}

// MiddlewareOrder returns the stage execution order from the current
// decision.
func (e *Engine) MiddlewareOrder() []string {
	return e.optimizer.Decision().MiddlewareOrder
}

// Stats returns live statistics for one route.
func (e *Engine) Stats(key RouteKey) (RouteStats, bool) {
	return e.recorder.Stats(key)
}

// Forecast returns the latency forecast for a route, or the zero value
// when prediction is disabled.
func (e *Engine) Forecast(key RouteKey, horizon float64) Forecast {
	if e.predictor == nil {
		return Forecast{Trend: "stable"}
	}
	return e.predictor.Forecast(key, horizon)
}

// Report builds a full report, updating the delta baseline.
func (e *Engine) Report() *Report {
	return e.reporter.Snapshot()
}

// CacheStats returns response cache counters.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

// Enable resumes recording and optimization.
func (e *Engine) Enable() { e.enabled.Store(true) }

// Disable pauses recording, optimization and cache serving. Requests
// pass through untouched; the optimize timer keeps ticking.
func (e *Engine) Disable() { e.enabled.Store(false) }

// Enabled reports whether the engine is active.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// Reset clears all accumulated statistics, predictions, cached responses
// and decisions. The optimize timer is unaffected.
func (e *Engine) Reset() {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	e.recorder.Reset()
	if e.predictor != nil {
		e.predictor.Reset()
	}
	e.cache.Clear()
	e.optimizer.Reset()
	e.log.Info("adaptive engine reset")
}
