package adaptive

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// RouteReport is one route's line in a report.
type RouteReport struct {
	Key        RouteKey
	State      RouteState
	Score      float64
	RPS        float64
	ErrorRate  float64
	AvgLatency time.Duration
	P95Latency time.Duration
	Forecast   Forecast

	// Deltas against the previous snapshot; zero on first report or for
	// routes not present in it.
	DeltaScore float64
	DeltaRPS   float64
	DeltaP95   time.Duration
}

// Recommendation is a deterministic tuning hint derived from one
// route's current statistics.
type Recommendation struct {
	Key    RouteKey
	Reason string
}

// Thresholds for the recommendation rules.
const (
	slowRouteP95   = 250 * time.Millisecond
	errorProneRate = 0.05
)

// Report is a point-in-time view of the whole subsystem.
type Report struct {
	GeneratedAt     time.Time
	Cycle           uint64
	TotalRequests   uint64
	TotalErrors     uint64
	GlobalRPS       float64
	Routes          []RouteReport
	HotSet          []HotSetEntry
	Memoized        []RouteKey
	MiddlewareOrder []string
	Cache           CacheStats
	Actions         []Action
	Recommendations []Recommendation
}

// Reporter assembles reports from the recorder, optimizer, predictor and
// cache. It retains exactly the previous snapshot so each report can show
// per-route deltas.
type Reporter struct {
	recorder  *Recorder
	optimizer *Optimizer
	predictor *Predictor
	cache     *ResponseCache
	clock     Clock

	mu   sync.Mutex
	prev *Report
}

// NewReporter builds a reporter over the given components.
func NewReporter(recorder *Recorder, optimizer *Optimizer, predictor *Predictor, cache *ResponseCache, clock Clock) *Reporter {
	if clock == nil {
		clock = SystemClock()
	}
	return &Reporter{
		recorder:  recorder,
		optimizer: optimizer,
		predictor: predictor,
		cache:     cache,
		clock:     clock,
	}
}

// Snapshot builds a new report, computes deltas against the previous one,
// and retains the new report as the comparison baseline.
func (r *Reporter) Snapshot() *Report {
	decision := r.optimizer.Decision()
	total, errs := r.recorder.Totals()

	rep := &Report{
		GeneratedAt:     r.clock.Now(),
		Cycle:           decision.Cycle,
		TotalRequests:   total,
		TotalErrors:     errs,
		GlobalRPS:       r.recorder.GlobalRPS(),
		MiddlewareOrder: append([]string(nil), decision.MiddlewareOrder...),
		Cache:           r.cache.Stats(),
		Actions:         r.optimizer.Actions(),
	}

	for _, entry := range decision.HotSet {
		rep.HotSet = append(rep.HotSet, entry)
	}
	sort.Slice(rep.HotSet, func(i, j int) bool {
		return rep.HotSet[i].Key.String() < rep.HotSet[j].Key.String()
	})
	for key := range decision.Memoized {
		rep.Memoized = append(rep.Memoized, key)
	}
	sort.Slice(rep.Memoized, func(i, j int) bool {
		return rep.Memoized[i].String() < rep.Memoized[j].String()
	})

	r.mu.Lock()
	prev := r.prev
	r.mu.Unlock()

	prevRoutes := map[RouteKey]RouteReport{}
	if prev != nil {
		for _, rr := range prev.Routes {
			prevRoutes[rr.Key] = rr
		}
	}

	for _, st := range r.recorder.Snapshot() {
		rr := RouteReport{
			Key:        st.Key,
			State:      decision.State(st.Key),
			Score:      decision.Scores[st.Key],
			RPS:        st.RPS,
			ErrorRate:  st.ErrorRate,
			AvgLatency: st.AvgLatency,
			P95Latency: st.P95Latency,
		}
		if r.predictor != nil {
			rr.Forecast = r.predictor.Forecast(st.Key, 1)
		}
		if p, ok := prevRoutes[st.Key]; ok {
			rr.DeltaScore = rr.Score - p.Score
			rr.DeltaRPS = st.RPS - p.RPS
			rr.DeltaP95 = st.P95Latency - p.P95Latency
		}
		rep.Routes = append(rep.Routes, rr)

		switch {
		case rr.ErrorRate >= errorProneRate:
			rep.Recommendations = append(rep.Recommendations, Recommendation{
				Key:    rr.Key,
				Reason: fmt.Sprintf("error rate %.1f%%; investigate failures before caching", rr.ErrorRate*100),
			})
		case rr.P95Latency >= slowRouteP95 && rr.State != StateMemoized:
			rep.Recommendations = append(rep.Recommendations, Recommendation{
				Key:    rr.Key,
				Reason: fmt.Sprintf("p95 %s; candidate for memoization or handler optimization", rr.P95Latency),
			})
		case rr.Forecast.Trend == "rising" && rr.State == StateHot:
			rep.Recommendations = append(rep.Recommendations, Recommendation{
				Key:    rr.Key,
				Reason: fmt.Sprintf("latency trending up on a hot route (next≈%.1fms)", rr.Forecast.Next),
			})
		}
	}
	sort.Slice(rep.Recommendations, func(i, j int) bool {
		return rep.Recommendations[i].Key.String() < rep.Recommendations[j].Key.String()
	})
	sort.Slice(rep.Routes, func(i, j int) bool {
		if rep.Routes[i].Score != rep.Routes[j].Score {
			return rep.Routes[i].Score > rep.Routes[j].Score
		}
		return rep.Routes[i].Key.String() < rep.Routes[j].Key.String()
	})

	r.mu.Lock()
	r.prev = rep
	r.mu.Unlock()
	return rep
}

// Render formats the report for terminal output.
func (rep *Report) Render() string {
	var b strings.Builder

	b.WriteString("╔══════════════════════════════════════════════════════════════╗\n")
	b.WriteString("║                 ADAPTIVE ENGINE REPORT                       ║\n")
	b.WriteString("╚══════════════════════════════════════════════════════════════╝\n\n")

	fmt.Fprintf(&b, "Generated: %s   Cycle: %d\n", rep.GeneratedAt.Format(time.RFC3339), rep.Cycle)
	fmt.Fprintf(&b, "Requests:  %d total, %d errors, %.2f req/s\n\n", rep.TotalRequests, rep.TotalErrors, rep.GlobalRPS)

	b.WriteString("── Routes (by heat score) ──\n")
	if len(rep.Routes) == 0 {
		b.WriteString("  (no traffic observed)\n")
	}
	for _, rr := range rep.Routes {
		fmt.Fprintf(&b, "  %-9s %-32s score=%.4f (%+.4f) rps=%.2f (%+.2f) err=%.2f%% p95=%s (%+dms)\n",
			rr.State, rr.Key, rr.Score, rr.DeltaScore, rr.RPS, rr.DeltaRPS,
			rr.ErrorRate*100, rr.P95Latency, rr.DeltaP95.Milliseconds())
		if rr.Forecast.Anomalous {
			fmt.Fprintf(&b, "            ⚠ latency anomaly (z=%.2f), next≈%.1fms trend=%s\n",
				rr.Forecast.ZScore, rr.Forecast.Next, rr.Forecast.Trend)
		}
	}

	b.WriteString("\n── Hot set ──\n")
	if len(rep.HotSet) == 0 {
		b.WriteString("  (empty)\n")
	}
	for _, e := range rep.HotSet {
		fmt.Fprintf(&b, "  %-32s promoted at cycle %d (score %.4f)\n", e.Key, e.PromotedCycle, e.ScoreAtPromotion)
	}

	b.WriteString("\n── Memoized routes ──\n")
	if len(rep.Memoized) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, key := range rep.Memoized {
		fmt.Fprintf(&b, "  %s\n", key)
	}

	fmt.Fprintf(&b, "\n── Response cache ──\n  %d/%d entries, %.1f%% hit rate (%d hits, %d misses, %d evictions)\n",
		rep.Cache.Size, rep.Cache.MaxEntries, rep.Cache.HitRate*100,
		rep.Cache.Hits, rep.Cache.Misses, rep.Cache.Evictions)

	fmt.Fprintf(&b, "\n── Middleware order ──\n  %s\n", strings.Join(rep.MiddlewareOrder, " → "))

	if len(rep.Recommendations) > 0 {
		b.WriteString("\n── Recommendations ──\n")
		for _, rec := range rep.Recommendations {
			fmt.Fprintf(&b, "  %-32s %s\n", rec.Key, rec.Reason)
		}
	}

	b.WriteString("\n── Recent decisions ──\n")
	if len(rep.Actions) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, a := range rep.Actions {
		fmt.Fprintf(&b, "  [cycle %d] %-10s %s\n", a.Cycle, a.Type, a.Detail)
	}

	return b.String()
}
