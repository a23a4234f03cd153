package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScorerZeroTraffic(t *testing.T) {
	s := NewScorer(HeatWeights{RPS: 0.5, Latency: 0.3, ErrorRate: 0.2})
	assert.Zero(t, s.Score(RouteStats{}))
}

func TestScorerMonotonicInRPS(t *testing.T) {
	s := NewScorer(HeatWeights{RPS: 0.5, Latency: 0.3, ErrorRate: 0.2})
	low := s.Score(RouteStats{RPS: 1})
	high := s.Score(RouteStats{RPS: 100})
	assert.Greater(t, high, low)
}

func TestScorerMonotonicInLatency(t *testing.T) {
	s := NewScorer(HeatWeights{RPS: 0.5, Latency: 0.3, ErrorRate: 0.2})
	fast := s.Score(RouteStats{RPS: 10, P95Latency: 5 * time.Millisecond})
	slow := s.Score(RouteStats{RPS: 10, P95Latency: 500 * time.Millisecond})
	assert.Greater(t, slow, fast)
}

func TestScorerMonotonicInErrorRate(t *testing.T) {
	s := NewScorer(HeatWeights{RPS: 0.5, Latency: 0.3, ErrorRate: 0.2})
	clean := s.Score(RouteStats{RPS: 10})
	flaky := s.Score(RouteStats{RPS: 10, ErrorRate: 0.5})
	assert.Greater(t, flaky, clean)
}

func TestScorerWeightsApply(t *testing.T) {
	st := RouteStats{RPS: 50, P95Latency: 100 * time.Millisecond, ErrorRate: 0.1}

	rpsOnly := NewScorer(HeatWeights{RPS: 1})
	latOnly := NewScorer(HeatWeights{Latency: 1})
	errOnly := NewScorer(HeatWeights{ErrorRate: 1})

	assert.Greater(t, rpsOnly.Score(st), 0.0)
	assert.Greater(t, latOnly.Score(st), 0.0)
	assert.InDelta(t, 0.1, errOnly.Score(st), 1e-9)
}
