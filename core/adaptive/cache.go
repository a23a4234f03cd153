package adaptive

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CachedResponse is a memoized handler response.
type CachedResponse struct {
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// CacheStats summarizes response-cache behavior for reporting.
type CacheStats struct {
	Size       int
	MaxEntries int
	Hits       uint64
	Misses     uint64
	HitRate    float64
	Evictions  uint64
}

type cacheEntry struct {
	key       uint64
	route     RouteKey
	resp      *CachedResponse
	expiresAt time.Time
}

// ResponseCache is a bounded TTL + LRU store for memoized responses.
// Entries past their TTL are logically absent even before a sweep. The
// optimizer owns the memoize policy; the cache only stores and evicts.
type ResponseCache struct {
	mu         sync.Mutex
	clock      Clock
	maxEntries int
	defaultTTL time.Duration

	entries map[uint64]*list.Element
	lru     *list.List // front = most recently used

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewResponseCache creates a cache bounded to maxEntries.
func NewResponseCache(maxEntries int, defaultTTL time.Duration, clock Clock) *ResponseCache {
	if clock == nil {
		clock = SystemClock()
	}
	return &ResponseCache{
		clock:      clock,
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		entries:    make(map[uint64]*list.Element, maxEntries),
		lru:        list.New(),
	}
}

// Key builds the deterministic fingerprint of one cacheable request:
// route identity, concrete path, query string and any declared
// cache-relevant attributes.
func (c *ResponseCache) Key(route RouteKey, path, query string, vary ...string) uint64 {
	d := xxhash.New()
	d.WriteString(route.Method)
	d.WriteString("|")
	d.WriteString(route.Path)
	d.WriteString("|")
	d.WriteString(path)
	d.WriteString("|")
	d.WriteString(query)
	for _, v := range vary {
		d.WriteString("|")
		d.WriteString(v)
	}
	return d.Sum64()
}

// Get returns the cached response, or absent on miss or logical expiry.
func (c *ResponseCache) Get(key uint64) (*CachedResponse, bool) {
	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*cacheEntry)
	if !c.clock.Now().Before(e.expiresAt) {
		// expired but not yet swept: treat as absent
		c.removeLocked(el)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.mu.Unlock()
	c.hits.Add(1)
	return e.resp, true
}

// Set stores a response under key. A full cache evicts its least recently
// used entry first. ttl <= 0 uses the cache default.
func (c *ResponseCache) Set(key uint64, route RouteKey, resp *CachedResponse, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expires := c.clock.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry)
		e.resp = resp
		e.route = route
		e.expiresAt = expires
		c.lru.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions.Add(1)
	}

	el := c.lru.PushFront(&cacheEntry{key: key, route: route, resp: resp, expiresAt: expires})
	c.entries[key] = el
}

// Invalidate removes a single entry.
func (c *ResponseCache) Invalidate(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// InvalidateRoute removes every entry cached for the given route. Called
// when a route loses memoization.
func (c *ResponseCache) InvalidateRoute(route RouteKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *list.Element
	for el := c.lru.Front(); el != nil; el = next {
		next = el.Next()
		if el.Value.(*cacheEntry).route == route {
			c.removeLocked(el)
		}
	}
}

// Sweep physically purges expired entries.
func (c *ResponseCache) Sweep() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *list.Element
	for el := c.lru.Front(); el != nil; el = next {
		next = el.Next()
		if !now.Before(el.Value.(*cacheEntry).expiresAt) {
			c.removeLocked(el)
		}
	}
}

// Clear drops all entries and resets counters.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[uint64]*list.Element, c.maxEntries)
	c.lru.Init()
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Len returns the number of physically present entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters and current occupancy.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	s := CacheStats{
		Size:       size,
		MaxEntries: c.maxEntries,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *ResponseCache) removeLocked(el *list.Element) {
	delete(c.entries, el.Value.(*cacheEntry).key)
	c.lru.Remove(el)
}
