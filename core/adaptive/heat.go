package adaptive

import "math"

// Reference scales used to log-normalize the heat-score terms so no single
// term dominates on units alone. RPS and latency are open-ended, so both
// are squashed with log1p against a nominal "very busy" / "very slow" scale.
const (
	heatRPSScale       = 1000.0  // rps considered saturated
	heatLatencyScaleMs = 10000.0 // p95 ms considered saturated
)

// Scorer derives a single ranking score per route from its stats.
// The score is monotonic in each input: more traffic, higher latency and
// more errors all push a route up the ranking.
type Scorer struct {
	weights HeatWeights
}

// NewScorer creates a scorer with the given term weights.
func NewScorer(w HeatWeights) *Scorer {
	return &Scorer{weights: w}
}

// Score is a pure, deterministic function of the stats snapshot.
func (s *Scorer) Score(st RouteStats) float64 {
	rpsTerm := math.Log1p(st.RPS) / math.Log1p(heatRPSScale)
	latTerm := math.Log1p(float64(st.P95Latency.Milliseconds())) / math.Log1p(heatLatencyScaleMs)
	errTerm := st.ErrorRate

	return s.weights.RPS*rpsTerm + s.weights.Latency*latTerm + s.weights.ErrorRate*errTerm
}
