package adaptive

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// rpsWindowSeconds is the trailing window for requests-per-second
// estimation. One bucket per second.
const rpsWindowSeconds = 10

// RouteStats is a point-in-time view of one route's traffic.
type RouteStats struct {
	Key           RouteKey
	TotalRequests uint64
	TotalErrors   uint64
	ErrorRate     float64
	RPS           float64
	AvgLatency    time.Duration
	P95Latency    time.Duration
	LastSeen      time.Time
}

// StageProfile is the measured cost profile of one middleware stage.
type StageProfile struct {
	Name             string
	Calls            uint64
	ShortCircuits    uint64
	AvgCost          time.Duration
	ShortCircuitRate float64
}

// secondBuckets is a fixed ring of per-second counters for sliding-window
// rate estimation.
type secondBuckets struct {
	counts [rpsWindowSeconds]uint64
	stamps [rpsWindowSeconds]int64
}

func (b *secondBuckets) add(sec int64) {
	idx := sec % rpsWindowSeconds
	if b.stamps[idx] != sec {
		b.stamps[idx] = sec
		b.counts[idx] = 0
	}
	b.counts[idx]++
}

func (b *secondBuckets) rate(sec int64) float64 {
	var total uint64
	for i := 0; i < rpsWindowSeconds; i++ {
		if sec-b.stamps[i] < rpsWindowSeconds {
			total += b.counts[i]
		}
	}
	return float64(total) / rpsWindowSeconds
}

func (b *secondBuckets) reset() {
	*b = secondBuckets{}
}

// atomicBuckets is the lock-free variant of secondBuckets used for the
// global request rate, where all routes write concurrently. A stale slot
// is claimed by CASing its stamp; increments racing the claim at a
// second boundary can be dropped, which the window estimate tolerates.
type atomicBuckets struct {
	counts [rpsWindowSeconds]atomic.Uint64
	stamps [rpsWindowSeconds]atomic.Int64
}

func (b *atomicBuckets) add(sec int64) {
	idx := sec % rpsWindowSeconds
	for {
		cur := b.stamps[idx].Load()
		if cur == sec {
			b.counts[idx].Add(1)
			return
		}
		if b.stamps[idx].CompareAndSwap(cur, sec) {
			b.counts[idx].Store(1)
			return
		}
	}
}

func (b *atomicBuckets) rate(sec int64) float64 {
	var total uint64
	for i := 0; i < rpsWindowSeconds; i++ {
		if sec-b.stamps[i].Load() < rpsWindowSeconds {
			total += b.counts[i].Load()
		}
	}
	return float64(total) / rpsWindowSeconds
}

func (b *atomicBuckets) reset() {
	for i := 0; i < rpsWindowSeconds; i++ {
		b.stamps[i].Store(0)
		b.counts[i].Store(0)
	}
}

// routeEntry holds the live counters for one route. Each entry carries its
// own mutex so unrelated routes never contend.
type routeEntry struct {
	mu            sync.Mutex
	totalRequests uint64
	totalErrors   uint64
	window        []time.Duration // latency ring
	windowNext    int
	windowFull    bool
	latencySum    time.Duration // sum over the ring's live samples
	buckets       secondBuckets
	lastSeen      time.Time
}

type stageEntry struct {
	mu            sync.Mutex
	calls         uint64
	shortCircuits uint64
	costSum       time.Duration
}

// Recorder is the traffic observation layer. Record sits on the request
// path and does nothing but in-memory counter updates.
type Recorder struct {
	clock      Clock
	windowSize int

	routes sync.Map // RouteKey -> *routeEntry
	stages sync.Map // string -> *stageEntry

	totalRequests atomic.Uint64
	totalErrors   atomic.Uint64
	globalBuckets atomicBuckets
}

// NewRecorder creates a recorder with the given rolling latency window size.
func NewRecorder(windowSize int, clock Clock) *Recorder {
	if clock == nil {
		clock = SystemClock()
	}
	return &Recorder{clock: clock, windowSize: windowSize}
}

// Record registers one completed request. Unknown routes are created
// lazily. Status codes >= 400 count as errors.
func (r *Recorder) Record(key RouteKey, latency time.Duration, status int) {
	val, ok := r.routes.Load(key)
	if !ok {
		val, _ = r.routes.LoadOrStore(key, &routeEntry{
			window: make([]time.Duration, 0, r.windowSize),
		})
	}
	e := val.(*routeEntry)

	now := r.clock.Now()
	sec := now.Unix()
	isError := status >= 400

	e.mu.Lock()
	e.totalRequests++
	if isError {
		e.totalErrors++
	}
	if len(e.window) < r.windowSize {
		e.window = append(e.window, latency)
		e.latencySum += latency
	} else {
		e.latencySum += latency - e.window[e.windowNext]
		e.window[e.windowNext] = latency
		e.windowNext = (e.windowNext + 1) % r.windowSize
		e.windowFull = true
	}
	e.buckets.add(sec)
	e.lastSeen = now
	e.mu.Unlock()

	r.totalRequests.Add(1)
	if isError {
		r.totalErrors.Add(1)
	}
	r.globalBuckets.add(sec)
}

// RecordStage registers one middleware stage execution.
func (r *Recorder) RecordStage(name string, cost time.Duration, shortCircuit bool) {
	val, ok := r.stages.Load(name)
	if !ok {
		val, _ = r.stages.LoadOrStore(name, &stageEntry{})
	}
	e := val.(*stageEntry)

	e.mu.Lock()
	e.calls++
	e.costSum += cost
	if shortCircuit {
		e.shortCircuits++
	}
	e.mu.Unlock()
}

// Stats returns the current stats for one route.
func (r *Recorder) Stats(key RouteKey) (RouteStats, bool) {
	val, ok := r.routes.Load(key)
	if !ok {
		return RouteStats{}, false
	}
	return r.snapshotEntry(key, val.(*routeEntry)), true
}

// Snapshot returns stats for every tracked route, sorted by key so
// downstream decisions are independent of map iteration order.
func (r *Recorder) Snapshot() []RouteStats {
	var out []RouteStats
	r.routes.Range(func(k, v any) bool {
		out = append(out, r.snapshotEntry(k.(RouteKey), v.(*routeEntry)))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Method != out[j].Key.Method {
			return out[i].Key.Method < out[j].Key.Method
		}
		return out[i].Key.Path < out[j].Key.Path
	})
	return out
}

func (r *Recorder) snapshotEntry(key RouteKey, e *routeEntry) RouteStats {
	sec := r.clock.Now().Unix()

	e.mu.Lock()
	st := RouteStats{
		Key:           key,
		TotalRequests: e.totalRequests,
		TotalErrors:   e.totalErrors,
		RPS:           e.buckets.rate(sec),
		LastSeen:      e.lastSeen,
	}
	n := len(e.window)
	if n > 0 {
		st.AvgLatency = e.latencySum / time.Duration(n)
		st.P95Latency = percentile(e.window, 0.95)
	}
	e.mu.Unlock()

	if st.TotalRequests > 0 {
		st.ErrorRate = float64(st.TotalErrors) / float64(st.TotalRequests)
	}
	return st
}

// StageProfiles returns the measured middleware cost profiles sorted by name.
func (r *Recorder) StageProfiles() []StageProfile {
	var out []StageProfile
	r.stages.Range(func(k, v any) bool {
		e := v.(*stageEntry)
		e.mu.Lock()
		p := StageProfile{
			Name:          k.(string),
			Calls:         e.calls,
			ShortCircuits: e.shortCircuits,
		}
		if e.calls > 0 {
			p.AvgCost = e.costSum / time.Duration(e.calls)
			p.ShortCircuitRate = float64(e.shortCircuits) / float64(e.calls)
		}
		e.mu.Unlock()
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Totals returns the global request and error counters.
func (r *Recorder) Totals() (requests, errors uint64) {
	return r.totalRequests.Load(), r.totalErrors.Load()
}

// GlobalRPS estimates overall request rate over the trailing window.
func (r *Recorder) GlobalRPS() float64 {
	return r.globalBuckets.rate(r.clock.Now().Unix())
}

// Reset drops all accumulated route and stage statistics.
func (r *Recorder) Reset() {
	r.routes.Range(func(k, _ any) bool {
		r.routes.Delete(k)
		return true
	})
	r.stages.Range(func(k, _ any) bool {
		r.stages.Delete(k)
		return true
	})
	r.totalRequests.Store(0)
	r.totalErrors.Store(0)
	r.globalBuckets.reset()
}

// percentile computes the q-th percentile over a copy of the window.
// Small windows fall back to the max sample.
func percentile(window []time.Duration, q float64) time.Duration {
	n := len(window)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if n < 20 {
		return sorted[n-1]
	}
	idx := int(float64(n)*q+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
