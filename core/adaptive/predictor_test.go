package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestPredictor() *Predictor {
	return NewPredictor(0.3, 30, 2.5, 10)
}

func TestPredictorEWMAConvergence(t *testing.T) {
	p := newTestPredictor()
	key := RouteKey{Method: "GET", Path: "/const"}

	for i := 0; i < 50; i++ {
		p.Observe(key, 100*time.Millisecond)
	}

	f := p.Forecast(key, 1)
	assert.InDelta(t, 100.0, f.EWMA, 1e-9)
	assert.Equal(t, "stable", f.Trend)
	assert.InDelta(t, 100.0, f.Next, 1e-6)
	assert.False(t, f.Anomalous)
}

func TestPredictorEWMAWeighsRecent(t *testing.T) {
	p := newTestPredictor()
	key := RouteKey{Method: "GET", Path: "/shift"}

	for i := 0; i < 20; i++ {
		p.Observe(key, 10*time.Millisecond)
	}
	for i := 0; i < 20; i++ {
		p.Observe(key, 50*time.Millisecond)
	}

	f := p.Forecast(key, 1)
	// the estimate has moved most of the way to the new level
	assert.Greater(t, f.EWMA, 45.0)
	assert.Less(t, f.EWMA, 50.0)
}

func TestPredictorTrendRising(t *testing.T) {
	p := newTestPredictor()
	key := RouteKey{Method: "GET", Path: "/rising"}

	for i := 0; i < 30; i++ {
		p.Observe(key, time.Duration(10+i)*time.Millisecond)
	}

	f := p.Forecast(key, 1)
	assert.Equal(t, "rising", f.Trend)
	assert.InDelta(t, 1.0, f.Slope, 0.05)
	assert.Greater(t, f.Next, f.EWMA)
}

func TestPredictorForecastNeverNegative(t *testing.T) {
	p := newTestPredictor()
	key := RouteKey{Method: "GET", Path: "/falling"}

	for i := 0; i < 30; i++ {
		d := time.Duration(30-i) * time.Millisecond
		p.Observe(key, d)
	}

	f := p.Forecast(key, 100)
	assert.Equal(t, "falling", f.Trend)
	assert.GreaterOrEqual(t, f.Next, 0.0)
}

func TestPredictorZScoreNeedsHistory(t *testing.T) {
	p := newTestPredictor()
	key := RouteKey{Method: "GET", Path: "/young"}

	for i := 0; i < 5; i++ {
		p.Observe(key, time.Duration(8+i)*time.Millisecond)
	}
	// below the minimum sample count every score is neutral
	assert.Zero(t, p.ZScore(key, 500*time.Millisecond))
}

func TestPredictorAnomalyDetection(t *testing.T) {
	p := newTestPredictor()
	key := RouteKey{Method: "GET", Path: "/spike"}

	// jittered baseline around 10ms so variance is nonzero
	for i := 0; i < 40; i++ {
		d := 9 * time.Millisecond
		if i%2 == 0 {
			d = 11 * time.Millisecond
		}
		p.Observe(key, d)
	}

	assert.Greater(t, p.ZScore(key, 100*time.Millisecond), 2.5)

	p.Observe(key, 100*time.Millisecond)
	f := p.Forecast(key, 1)
	assert.True(t, f.Anomalous)
	assert.Greater(t, f.ZScore, 2.5)

	// the next normal sample clears the flag
	p.Observe(key, 10*time.Millisecond)
	assert.False(t, p.Forecast(key, 1).Anomalous)
}

func TestPredictorUnknownRoute(t *testing.T) {
	p := newTestPredictor()
	f := p.Forecast(RouteKey{Method: "GET", Path: "/none"}, 1)
	assert.Equal(t, "stable", f.Trend)
	assert.Zero(t, f.EWMA)
}

func TestPredictorReset(t *testing.T) {
	p := newTestPredictor()
	key := RouteKey{Method: "GET", Path: "/reset"}
	for i := 0; i < 20; i++ {
		p.Observe(key, 10*time.Millisecond)
	}
	p.Reset()
	f := p.Forecast(key, 1)
	assert.Zero(t, f.EWMA)
	assert.Equal(t, "stable", f.Trend)
}
