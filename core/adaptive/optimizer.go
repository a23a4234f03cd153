package adaptive

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HotSetEntry records a route's admission into the bounded hot set.
type HotSetEntry struct {
	Key              RouteKey
	PromotedCycle    uint64
	ScoreAtPromotion float64
}

// StageInfo describes one middleware stage for reorder decisions. Pinned
// stages (declared ordering dependencies, auth-like short-circuit stages)
// are never moved.
type StageInfo struct {
	Name   string
	Pinned bool
}

// Decision is one cycle's complete output: route states, hot-set
// membership, the memoized set and the middleware order. It is immutable
// after publication and swapped in atomically, so readers on the request
// path never observe a half-updated cycle.
type Decision struct {
	Cycle           uint64
	States          map[RouteKey]RouteState
	Scores          map[RouteKey]float64
	HotSet          map[RouteKey]HotSetEntry
	Memoized        map[RouteKey]struct{}
	MiddlewareOrder []string
}

// State returns a route's decided state; unknown routes are cold.
func (d *Decision) State(key RouteKey) RouteState {
	if d == nil {
		return StateCold
	}
	return d.States[key]
}

// IsHot reports hot-set membership (memoized routes are hot too).
func (d *Decision) IsHot(key RouteKey) bool {
	if d == nil {
		return false
	}
	_, ok := d.HotSet[key]
	return ok
}

// IsMemoized reports whether responses for the route may be served from
// the response cache.
func (d *Decision) IsMemoized(key RouteKey) bool {
	if d == nil {
		return false
	}
	_, ok := d.Memoized[key]
	return ok
}

// Action is one logged optimization decision.
type Action struct {
	Cycle  uint64
	At     time.Time
	Type   string
	Detail string
}

const maxActionLog = 128

// Optimizer runs the periodic decision cycle: it pulls recorder snapshots,
// ranks routes by heat score, maintains the bounded hot set, re-evaluates
// the auto-memoize gates and orders commutable middleware stages by
// measured cost.
type Optimizer struct {
	cfg       Config
	recorder  *Recorder
	scorer    *Scorer
	predictor *Predictor
	cache     *ResponseCache
	log       *zap.Logger
	clock     Clock

	stagesMu sync.Mutex
	stages   []StageInfo

	decision   atomic.Pointer[Decision]
	cycleCount atomic.Uint64

	actionsMu sync.Mutex
	actions   []Action
}

// NewOptimizer wires the decision engine to its inputs. The initial
// decision is empty: everything cold, no hot set, registration order.
func NewOptimizer(cfg Config, recorder *Recorder, scorer *Scorer, predictor *Predictor, cache *ResponseCache, log *zap.Logger, clock Clock) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	o := &Optimizer{
		cfg:       cfg,
		recorder:  recorder,
		scorer:    scorer,
		predictor: predictor,
		cache:     cache,
		log:       log,
		clock:     clock,
	}
	o.decision.Store(o.emptyDecision())
	return o
}

// SetStages registers the middleware stages available for reordering, in
// their declared order.
func (o *Optimizer) SetStages(stages []StageInfo) {
	o.stagesMu.Lock()
	o.stages = append([]StageInfo(nil), stages...)
	o.stagesMu.Unlock()
}

// Decision returns the currently published decision.
func (o *Optimizer) Decision() *Decision {
	return o.decision.Load()
}

// Cycles returns the number of completed optimize cycles.
func (o *Optimizer) Cycles() uint64 {
	return o.cycleCount.Load()
}

// Actions returns the recent decision log, oldest first.
func (o *Optimizer) Actions() []Action {
	o.actionsMu.Lock()
	defer o.actionsMu.Unlock()
	return append([]Action(nil), o.actions...)
}

// Reset discards hot-set membership and the decision log. Route stats
// live in the recorder and are reset there.
func (o *Optimizer) Reset() {
	o.decision.Store(o.emptyDecision())
	o.actionsMu.Lock()
	o.actions = nil
	o.actionsMu.Unlock()
}

func (o *Optimizer) emptyDecision() *Decision {
	return &Decision{
		States:          map[RouteKey]RouteState{},
		Scores:          map[RouteKey]float64{},
		HotSet:          map[RouteKey]HotSetEntry{},
		Memoized:        map[RouteKey]struct{}{},
		MiddlewareOrder: o.registeredOrder(),
	}
}

func (o *Optimizer) registeredOrder() []string {
	o.stagesMu.Lock()
	defer o.stagesMu.Unlock()
	names := make([]string, len(o.stages))
	for i, s := range o.stages {
		names[i] = s.Name
	}
	return names
}

// RunCycle executes one optimize cycle. The cycle never fails the serving
// path: any panic is recovered, logged, and the previous decision stays
// published.
func (o *Optimizer) RunCycle() {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("optimize cycle failed, previous decisions retained",
				zap.Any("panic", r))
		}
	}()

	// The counter only advances once the new decision is published, so an
	// aborted cycle leaves both the decision and the count untouched.
	cycle := o.cycleCount.Load() + 1
	prev := o.decision.Load()
	stats := o.recorder.Snapshot()

	next := &Decision{
		Cycle:    cycle,
		States:   make(map[RouteKey]RouteState, len(stats)),
		Scores:   make(map[RouteKey]float64, len(stats)),
		HotSet:   make(map[RouteKey]HotSetEntry, o.cfg.HotSetCapacity),
		Memoized: make(map[RouteKey]struct{}),
	}

	type candidate struct {
		key    RouteKey
		stats  RouteStats
		score  float64
		tenure uint64
	}
	var candidates []candidate

	for _, st := range stats {
		if st.TotalRequests < o.cfg.WatchMinSamples {
			next.States[st.Key] = StateCold
			continue
		}
		score := o.scorer.Score(st)
		next.Scores[st.Key] = score
		next.States[st.Key] = StateWatched

		tenure := uint64(0)
		if entry, ok := prev.HotSet[st.Key]; ok {
			tenure = cycle - entry.PromotedCycle
		}
		candidates = append(candidates, candidate{key: st.Key, stats: st, score: score, tenure: tenure})
	}

	// Rank: score descending; score ties prefer the shorter tenure so
	// emerging routes are not starved; final tie on the key itself keeps
	// the ordering fully deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.tenure != b.tenure {
			return a.tenure < b.tenure
		}
		return a.key.String() < b.key.String()
	})

	limit := o.cfg.HotSetCapacity
	if limit > len(candidates) {
		limit = len(candidates)
	}
	for _, c := range candidates[:limit] {
		entry := HotSetEntry{Key: c.key, PromotedCycle: cycle, ScoreAtPromotion: c.score}
		if prevEntry, ok := prev.HotSet[c.key]; ok {
			entry = prevEntry // keep original promotion cycle and score
		}
		next.HotSet[c.key] = entry
		next.States[c.key] = StateHot

		if o.memoizable(c.key, c.stats) {
			next.Memoized[c.key] = struct{}{}
			next.States[c.key] = StateMemoized
		}
	}

	o.diffHotSet(cycle, prev, next)
	o.diffMemoized(cycle, prev, next)
	hotKeys := make([]RouteKey, 0, limit)
	for _, c := range candidates[:limit] {
		hotKeys = append(hotKeys, c.key)
	}
	o.flagAnomalies(hotKeys)

	if o.cfg.MiddlewareReorderEnabled {
		next.MiddlewareOrder = o.orderStages()
		if prev != nil && !equalOrder(prev.MiddlewareOrder, next.MiddlewareOrder) {
			o.logAction(cycle, "reorder", fmt.Sprintf("middleware order now %v", next.MiddlewareOrder))
		}
	} else {
		next.MiddlewareOrder = o.registeredOrder()
	}

	o.decision.Store(next)
	o.cycleCount.Store(cycle)
}

// memoizable applies the four auto-memoize gates. All are re-checked
// every cycle; losing any one drops memoization.
func (o *Optimizer) memoizable(key RouteKey, st RouteStats) bool {
	if !o.cfg.AutoMemoizeEnabled {
		return false
	}
	return key.Method == "GET" &&
		st.RPS >= o.cfg.MemoizeMinRPS &&
		st.ErrorRate <= o.cfg.MemoizeMaxErrorRate &&
		st.TotalRequests >= o.cfg.MemoizeMinSamples
}

func (o *Optimizer) diffHotSet(cycle uint64, prev, next *Decision) {
	for key := range next.HotSet {
		if _, ok := prev.HotSet[key]; !ok {
			o.logAction(cycle, "promote", fmt.Sprintf("%s entered hot set (score=%.4f)", key, next.Scores[key]))
		}
	}
	for key := range prev.HotSet {
		if _, ok := next.HotSet[key]; !ok {
			o.logAction(cycle, "demote", fmt.Sprintf("%s left hot set", key))
		}
	}
}

func (o *Optimizer) diffMemoized(cycle uint64, prev, next *Decision) {
	for key := range next.Memoized {
		if _, ok := prev.Memoized[key]; !ok {
			o.logAction(cycle, "memoize", fmt.Sprintf("%s auto-memoized", key))
		}
	}
	for key := range prev.Memoized {
		if _, ok := next.Memoized[key]; !ok {
			o.logAction(cycle, "unmemoize", fmt.Sprintf("%s lost memoization", key))
			o.cache.InvalidateRoute(key)
		}
	}
}

func (o *Optimizer) flagAnomalies(hot []RouteKey) {
	if o.predictor == nil {
		return
	}
	for _, key := range hot {
		if f := o.predictor.Forecast(key, 1); f.Anomalous {
			o.log.Warn("latency anomaly on hot route",
				zap.String("route", key.String()),
				zap.Float64("zscore", f.ZScore),
				zap.Float64("ewma_ms", f.EWMA))
		}
	}
}

// orderStages sorts commutable stages by ascending measured average cost.
// Pinned stages keep their registered positions; only the unpinned slots
// are refilled. Which stages run, and any short-circuiting, is unchanged.
func (o *Optimizer) orderStages() []string {
	o.stagesMu.Lock()
	stages := append([]StageInfo(nil), o.stages...)
	o.stagesMu.Unlock()

	profiles := o.recorder.StageProfiles()
	cost := make(map[string]time.Duration, len(profiles))
	for _, p := range profiles {
		cost[p.Name] = p.AvgCost
	}

	var movable []StageInfo
	for _, s := range stages {
		if !s.Pinned {
			movable = append(movable, s)
		}
	}
	sort.SliceStable(movable, func(i, j int) bool {
		ci, cj := cost[movable[i].Name], cost[movable[j].Name]
		if ci != cj {
			return ci < cj
		}
		return movable[i].Name < movable[j].Name
	})

	order := make([]string, len(stages))
	mi := 0
	for i, s := range stages {
		if s.Pinned {
			order[i] = s.Name
		} else {
			order[i] = movable[mi].Name
			mi++
		}
	}
	return order
}

func (o *Optimizer) logAction(cycle uint64, typ, detail string) {
	o.log.Info("optimization", zap.Uint64("cycle", cycle), zap.String("type", typ), zap.String("detail", detail))
	o.actionsMu.Lock()
	o.actions = append(o.actions, Action{Cycle: cycle, At: o.clock.Now(), Type: typ, Detail: detail})
	if len(o.actions) > maxActionLog {
		o.actions = o.actions[len(o.actions)-maxActionLog:]
	}
	o.actionsMu.Unlock()
}

func equalOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
