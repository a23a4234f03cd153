package adaptive

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResponse(body string) *CachedResponse {
	return &CachedResponse{
		Status:      200,
		ContentType: "application/json",
		Body:        []byte(body),
	}
}

func TestCacheSetGet(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache(10, 30*time.Second, clock)
	route := RouteKey{Method: "GET", Path: "/api/users/:id"}
	key := cache.Key(route, "/api/users/42", "")

	_, ok := cache.Get(key)
	assert.False(t, ok)

	cache.Set(key, route, testResponse(`{"id":42}`), 0)
	resp, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"id":42}`, string(resp.Body))

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCacheKeyDistinguishesQuery(t *testing.T) {
	cache := NewResponseCache(10, time.Second, newFakeClock())
	route := RouteKey{Method: "GET", Path: "/search"}

	a := cache.Key(route, "/search", "q=go")
	b := cache.Key(route, "/search", "q=rust")
	c := cache.Key(route, "/search", "q=go")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)

	// vary segments feed the fingerprint too
	d := cache.Key(route, "/search", "q=go", "gzip")
	assert.NotEqual(t, a, d)
}

func TestCacheLogicalExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache(10, 5*time.Second, clock)
	route := RouteKey{Method: "GET", Path: "/ttl"}
	key := cache.Key(route, "/ttl", "")

	cache.Set(key, route, testResponse("v"), 0)
	clock.Advance(4 * time.Second)
	_, ok := cache.Get(key)
	assert.True(t, ok)

	// expired entries are rejected on read even before any sweep runs
	clock.Advance(2 * time.Second)
	_, ok = cache.Get(key)
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestCachePerEntryTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache(10, time.Hour, clock)
	route := RouteKey{Method: "GET", Path: "/short"}
	key := cache.Key(route, "/short", "")

	cache.Set(key, route, testResponse("v"), 2*time.Second)
	clock.Advance(3 * time.Second)
	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestCacheLRUEviction(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache(2, time.Hour, clock)
	route := RouteKey{Method: "GET", Path: "/e"}

	k1 := cache.Key(route, "/e", "n=1")
	k2 := cache.Key(route, "/e", "n=2")
	k3 := cache.Key(route, "/e", "n=3")

	cache.Set(k1, route, testResponse("1"), 0)
	cache.Set(k2, route, testResponse("2"), 0)

	// touch k1 so k2 becomes the least recently used
	_, ok := cache.Get(k1)
	require.True(t, ok)

	cache.Set(k3, route, testResponse("3"), 0)
	assert.Equal(t, 2, cache.Len())

	_, ok = cache.Get(k2)
	assert.False(t, ok)
	_, ok = cache.Get(k1)
	assert.True(t, ok)
	_, ok = cache.Get(k3)
	assert.True(t, ok)

	assert.Equal(t, uint64(1), cache.Stats().Evictions)
}

func TestCacheInvalidateRoute(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache(10, time.Hour, clock)
	users := RouteKey{Method: "GET", Path: "/users/:id"}
	posts := RouteKey{Method: "GET", Path: "/posts/:id"}

	for i := 0; i < 3; i++ {
		k := cache.Key(users, fmt.Sprintf("/users/%d", i), "")
		cache.Set(k, users, testResponse("u"), 0)
	}
	pk := cache.Key(posts, "/posts/1", "")
	cache.Set(pk, posts, testResponse("p"), 0)

	cache.InvalidateRoute(users)
	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get(pk)
	assert.True(t, ok)
}

func TestCacheSweep(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache(10, 5*time.Second, clock)
	route := RouteKey{Method: "GET", Path: "/s"}

	cache.Set(cache.Key(route, "/s", "a"), route, testResponse("a"), 0)
	clock.Advance(3 * time.Second)
	cache.Set(cache.Key(route, "/s", "b"), route, testResponse("b"), 0)

	clock.Advance(3 * time.Second)
	cache.Sweep()

	// only the first entry crossed its deadline
	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get(cache.Key(route, "/s", "b"))
	assert.True(t, ok)
}

func TestCacheClear(t *testing.T) {
	clock := newFakeClock()
	cache := NewResponseCache(10, time.Hour, clock)
	route := RouteKey{Method: "GET", Path: "/c"}
	cache.Set(cache.Key(route, "/c", ""), route, testResponse("v"), 0)

	cache.Clear()
	assert.Zero(t, cache.Len())
	_, ok := cache.Get(cache.Key(route, "/c", ""))
	assert.False(t, ok)
}
