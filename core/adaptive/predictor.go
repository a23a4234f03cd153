package adaptive

import (
	"math"
	"sync"
	"time"
)

// Forecast is the predictor's current view of one route's latency series.
// Values are milliseconds.
type Forecast struct {
	EWMA      float64
	Slope     float64
	Next      float64 // ewma + slope*horizon
	Trend     string  // "rising", "falling" or "stable"
	ZScore    float64 // z-score of the most recent sample
	Anomalous bool
}

const trendSlopeEpsilon = 0.01

// routePredictor carries the streaming state for a single route.
// All updates are O(1); the regression slope is evaluated lazily over
// the bounded window when a forecast is requested.
type routePredictor struct {
	mu sync.Mutex

	ewma        float64
	initialized bool

	// Welford running mean/variance over all samples.
	count int
	mean  float64
	m2    float64

	// Bounded window for the trend slope.
	window []float64
	next   int
	filled bool

	lastZ     float64
	anomalous bool
}

// Predictor maintains per-route latency estimators: an EWMA, a streaming
// mean/stddev for z-scores, and a windowed linear trend.
type Predictor struct {
	alpha      float64
	windowSize int
	zThreshold float64
	minSamples int

	routes sync.Map // RouteKey -> *routePredictor
}

// NewPredictor creates a predictor. alpha weights recent samples; the
// window bounds the trend regression; zThreshold flags anomalies.
func NewPredictor(alpha float64, windowSize int, zThreshold float64, minSamples int) *Predictor {
	return &Predictor{
		alpha:      alpha,
		windowSize: windowSize,
		zThreshold: zThreshold,
		minSamples: minSamples,
	}
}

func (p *Predictor) entry(key RouteKey) *routePredictor {
	val, ok := p.routes.Load(key)
	if !ok {
		val, _ = p.routes.LoadOrStore(key, &routePredictor{
			window: make([]float64, 0, p.windowSize),
		})
	}
	return val.(*routePredictor)
}

// Observe feeds one latency sample into the route's estimators.
func (p *Predictor) Observe(key RouteKey, latency time.Duration) {
	x := float64(latency) / float64(time.Millisecond)
	e := p.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	// z-score of this sample against history seen so far
	e.lastZ = e.zScoreLocked(x, p.minSamples)
	e.anomalous = math.Abs(e.lastZ) > p.zThreshold

	if !e.initialized {
		e.ewma = x
		e.initialized = true
	} else {
		e.ewma = p.alpha*x + (1-p.alpha)*e.ewma
	}

	e.count++
	delta := x - e.mean
	e.mean += delta / float64(e.count)
	e.m2 += delta * (x - e.mean)

	if len(e.window) < p.windowSize {
		e.window = append(e.window, x)
	} else {
		e.window[e.next] = x
		e.next = (e.next + 1) % p.windowSize
		e.filled = true
	}
}

// ZScore reports how far a latency sample sits from the route's rolling
// mean, in standard deviations. Returns 0 with too little history or a
// zero stddev.
func (p *Predictor) ZScore(key RouteKey, latency time.Duration) float64 {
	val, ok := p.routes.Load(key)
	if !ok {
		return 0
	}
	e := val.(*routePredictor)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.zScoreLocked(float64(latency)/float64(time.Millisecond), p.minSamples)
}

func (e *routePredictor) zScoreLocked(x float64, minSamples int) float64 {
	if e.count < minSamples {
		return 0
	}
	variance := e.m2 / float64(e.count)
	if variance <= 0 {
		return 0
	}
	return (x - e.mean) / math.Sqrt(variance)
}

// Forecast extrapolates the route's latency `horizon` cycle steps ahead.
// Routes with no history yield a neutral zero forecast; forecasting never
// fails or blocks.
func (p *Predictor) Forecast(key RouteKey, horizon float64) Forecast {
	val, ok := p.routes.Load(key)
	if !ok {
		return Forecast{Trend: "stable"}
	}
	e := val.(*routePredictor)

	e.mu.Lock()
	defer e.mu.Unlock()

	f := Forecast{
		EWMA:      e.ewma,
		ZScore:    e.lastZ,
		Anomalous: e.anomalous,
		Trend:     "stable",
	}
	f.Slope = slopeLocked(e.window, e.next, e.filled)
	next := e.ewma + f.Slope*horizon
	if next < 0 {
		next = 0
	}
	f.Next = next

	switch {
	case f.Slope > trendSlopeEpsilon:
		f.Trend = "rising"
	case f.Slope < -trendSlopeEpsilon:
		f.Trend = "falling"
	}
	return f
}

// Reset drops all per-route predictor state.
func (p *Predictor) Reset() {
	p.routes.Range(func(k, _ any) bool {
		p.routes.Delete(k)
		return true
	})
}

// slopeLocked runs a least-squares fit over the window in insertion order.
// Fewer than 3 samples yield a zero slope.
func slopeLocked(window []float64, next int, filled bool) float64 {
	n := len(window)
	if n < 3 {
		return 0
	}

	start := 0
	if filled {
		start = next
	}

	// x = 0..n-1 in insertion order
	var sumX, sumY, sumXY, sumXX float64
	for i := 0; i < n; i++ {
		x := float64(i)
		y := window[(start+i)%n]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}
