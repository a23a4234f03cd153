package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineTestConfig() Config {
	cfg := DefaultConfig()
	cfg.WatchMinSamples = 10
	cfg.MemoizeMinRPS = 5
	cfg.MemoizeMinSamples = 50
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	e, err := New(cfg, WithClock(clock))
	require.NoError(t, err)
	return e, clock
}

// memoize drives enough traffic through a GET route to pass every gate,
// then runs a cycle.
func memoize(e *Engine, key RouteKey) {
	for i := 0; i < 200; i++ {
		tok := e.OnRequestStart(key.Method, key.Path)
		e.OnRequestEnd(tok, 200)
	}
	e.RunCycle()
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotSetCapacity = -1
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestEngineRecordsLatencyFromToken(t *testing.T) {
	e, clock := newTestEngine(t, engineTestConfig())
	key := RouteKey{Method: "GET", Path: "/timed"}

	tok := e.OnRequestStart("GET", "/timed")
	clock.Advance(25 * time.Millisecond)
	e.OnRequestEnd(tok, 200)

	st, ok := e.Stats(key)
	require.True(t, ok)
	assert.Equal(t, uint64(1), st.TotalRequests)
	assert.Equal(t, 25*time.Millisecond, st.AvgLatency)
}

func TestEngineMemoizedRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t, engineTestConfig())
	key := RouteKey{Method: "GET", Path: "/api/items"}
	memoize(e, key)
	require.Equal(t, StateMemoized, e.State(key))

	tok := e.OnRequestStart("GET", "/api/items")
	_, ok := e.Lookup(tok, "/api/items", "page=1")
	assert.False(t, ok)

	e.Store(tok, "/api/items", "page=1", testResponse(`["a","b"]`))
	resp, ok := e.Lookup(tok, "/api/items", "page=1")
	require.True(t, ok)
	assert.Equal(t, `["a","b"]`, string(resp.Body))

	// a different query is a different entry
	_, ok = e.Lookup(tok, "/api/items", "page=2")
	assert.False(t, ok)
}

func TestEngineStoreIgnoresNonMemoized(t *testing.T) {
	e, _ := newTestEngine(t, engineTestConfig())

	tok := e.OnRequestStart("GET", "/cold")
	e.Store(tok, "/cold", "", testResponse("v"))
	_, ok := e.Lookup(tok, "/cold", "")
	assert.False(t, ok)
	assert.Zero(t, e.CacheStats().Size)
}

func TestEngineStoreIgnoresErrors(t *testing.T) {
	e, _ := newTestEngine(t, engineTestConfig())
	key := RouteKey{Method: "GET", Path: "/err"}
	memoize(e, key)

	tok := e.OnRequestStart("GET", "/err")
	e.Store(tok, "/err", "", &CachedResponse{Status: 502, Body: []byte("bad gateway")})
	_, ok := e.Lookup(tok, "/err", "")
	assert.False(t, ok)
}

func TestEngineCachedEntryExpires(t *testing.T) {
	cfg := engineTestConfig()
	cfg.CacheDefaultTTL = 5 * time.Second
	e, clock := newTestEngine(t, cfg)
	key := RouteKey{Method: "GET", Path: "/ttl"}
	memoize(e, key)

	tok := e.OnRequestStart("GET", "/ttl")
	e.Store(tok, "/ttl", "", testResponse("fresh"))
	clock.Advance(6 * time.Second)

	// expired before any sweep ran
	_, ok := e.Lookup(tok, "/ttl", "")
	assert.False(t, ok)
}

func TestEngineMemoizeTTLOverride(t *testing.T) {
	cfg := engineTestConfig()
	cfg.CacheDefaultTTL = 5 * time.Second
	cfg.MemoizeTTL = map[string]time.Duration{"GET /pinned": time.Minute}
	e, clock := newTestEngine(t, cfg)

	pinned := RouteKey{Method: "GET", Path: "/pinned"}
	plain := RouteKey{Method: "GET", Path: "/plain"}
	memoize(e, pinned)
	memoize(e, plain)

	pinnedTok := e.OnRequestStart("GET", "/pinned")
	plainTok := e.OnRequestStart("GET", "/plain")
	e.Store(pinnedTok, "/pinned", "", testResponse("pinned"))
	e.Store(plainTok, "/plain", "", testResponse("plain"))

	// past the default TTL only the overridden route survives
	clock.Advance(10 * time.Second)
	_, ok := e.Lookup(plainTok, "/plain", "")
	assert.False(t, ok)
	resp, ok := e.Lookup(pinnedTok, "/pinned", "")
	require.True(t, ok)
	assert.Equal(t, "pinned", string(resp.Body))

	clock.Advance(time.Minute)
	_, ok = e.Lookup(pinnedTok, "/pinned", "")
	assert.False(t, ok)
}

func TestEngineMemoizeThreshold(t *testing.T) {
	e, clock := newTestEngine(t, engineTestConfig())
	slow := RouteKey{Method: "GET", Path: "/slow"}
	fast := RouteKey{Method: "GET", Path: "/fast"}

	// one request per second stays below the 5 rps gate
	for i := 0; i < 60; i++ {
		if i > 0 {
			clock.Advance(time.Second)
		}
		tok := e.OnRequestStart("GET", "/slow")
		e.OnRequestEnd(tok, 200)
		// twenty per second clears it
		for j := 0; j < 20; j++ {
			tok := e.OnRequestStart("GET", "/fast")
			e.OnRequestEnd(tok, 200)
		}
	}
	e.RunCycle()

	assert.False(t, e.Decision().IsMemoized(slow))
	assert.True(t, e.Decision().IsMemoized(fast))
}

func TestEngineDisable(t *testing.T) {
	e, _ := newTestEngine(t, engineTestConfig())
	key := RouteKey{Method: "GET", Path: "/paused"}
	memoize(e, key)

	tok := e.OnRequestStart("GET", "/paused")
	e.Store(tok, "/paused", "", testResponse("v"))

	e.Disable()
	assert.False(t, e.Enabled())

	_, ok := e.Lookup(tok, "/paused", "")
	assert.False(t, ok)

	before, _ := e.Stats(key)
	e.OnRequestEnd(tok, 200)
	after, _ := e.Stats(key)
	assert.Equal(t, before.TotalRequests, after.TotalRequests)

	e.Enable()
	_, ok = e.Lookup(tok, "/paused", "")
	assert.True(t, ok)
}

func TestEngineReset(t *testing.T) {
	e, _ := newTestEngine(t, engineTestConfig())
	key := RouteKey{Method: "GET", Path: "/r"}
	memoize(e, key)

	tok := e.OnRequestStart("GET", "/r")
	e.Store(tok, "/r", "", testResponse("v"))
	require.Equal(t, StateMemoized, e.State(key))

	e.Reset()

	assert.Equal(t, StateCold, e.State(key))
	_, ok := e.Stats(key)
	assert.False(t, ok)
	assert.Zero(t, e.CacheStats().Size)
	assert.True(t, e.Enabled())
}

func TestEngineStartClose(t *testing.T) {
	cfg := engineTestConfig()
	cfg.OptimizeInterval = time.Hour
	e, _ := newTestEngine(t, cfg)

	e.Start()
	e.Start() // idempotent
	e.Close()
	e.Close()
}

func TestEngineMiddlewareOrder(t *testing.T) {
	e, _ := newTestEngine(t, engineTestConfig())
	e.RegisterStages([]StageInfo{
		{Name: "recover", Pinned: true},
		{Name: "logging"},
		{Name: "gzip"},
	})
	e.RecordStage("logging", 4*time.Millisecond, false)
	e.RecordStage("gzip", time.Millisecond, false)

	e.RunCycle()
	assert.Equal(t, []string{"recover", "gzip", "logging"}, e.MiddlewareOrder())
}

func TestEngineReportDeltas(t *testing.T) {
	e, _ := newTestEngine(t, engineTestConfig())
	key := RouteKey{Method: "GET", Path: "/reported"}
	memoize(e, key)

	first := e.Report()
	require.NotEmpty(t, first.Routes)
	assert.Zero(t, first.Routes[0].DeltaScore)
	assert.Zero(t, first.Routes[0].DeltaRPS)
	assert.Contains(t, first.Memoized, key)

	// more traffic between snapshots shows up as positive deltas; the
	// score only moves once a cycle has rescored the route
	for i := 0; i < 200; i++ {
		tok := e.OnRequestStart("GET", "/reported")
		e.OnRequestEnd(tok, 200)
	}
	e.RunCycle()
	second := e.Report()
	require.NotEmpty(t, second.Routes)
	assert.Greater(t, second.Routes[0].DeltaScore, 0.0)
	assert.Greater(t, second.Routes[0].DeltaRPS, 0.0)

	rendered := second.Render()
	assert.Contains(t, rendered, "GET /reported")
	assert.Contains(t, rendered, "Memoized routes")
}

func TestEngineReportRecommendations(t *testing.T) {
	e, clock := newTestEngine(t, engineTestConfig())

	// error-prone route: 1 in 4 requests fails
	for i := 0; i < 100; i++ {
		tok := e.OnRequestStart("GET", "/flaky")
		status := 200
		if i%4 == 0 {
			status = 502
		}
		e.OnRequestEnd(tok, status)
	}

	// slow route: p95 well above the threshold
	for i := 0; i < 100; i++ {
		tok := e.OnRequestStart("GET", "/slow")
		clock.Advance(400 * time.Millisecond)
		e.OnRequestEnd(tok, 200)
	}

	e.RunCycle()
	rep := e.Report()

	byKey := map[RouteKey]string{}
	for _, rec := range rep.Recommendations {
		byKey[rec.Key] = rec.Reason
	}
	assert.Contains(t, byKey[RouteKey{Method: "GET", Path: "/flaky"}], "error rate")
	assert.Contains(t, byKey[RouteKey{Method: "GET", Path: "/slow"}], "memoization")
}
