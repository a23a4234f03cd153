package middleware

import (
	"testing"
	"time"

	"github.com/searchktools/adaptive-server/core/http"
)

func TestPipelineBasic(t *testing.T) {
	pipeline := NewPipeline()

	executed := false
	pipeline.UseStage(Stage{Name: "mark", Handler: func(ctx *http.FDContext) {
		executed = true
	}})

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx *http.FDContext) {})

	if !executed {
		t.Error("Middleware was not executed")
	}
}

func TestPipelineAbort(t *testing.T) {
	pipeline := NewPipeline()

	secondExecuted := false
	finalExecuted := false

	pipeline.UseStage(Stage{Name: "abort", Handler: func(ctx *http.FDContext) {
		ctx.Abort()
	}})
	pipeline.UseStage(Stage{Name: "after", Handler: func(ctx *http.FDContext) {
		secondExecuted = true
	}})

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx *http.FDContext) {
		finalExecuted = true
	})

	if secondExecuted {
		t.Error("Stage after abort should not run")
	}
	if finalExecuted {
		t.Error("Final handler should not run after abort")
	}
}

func TestPipelineRegistrationOrder(t *testing.T) {
	pipeline := NewPipeline()

	var order []int
	for i := 1; i <= 3; i++ {
		n := i
		pipeline.Use(func(ctx *http.FDContext) {
			order = append(order, n)
		})
	}

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx *http.FDContext) {
		order = append(order, 4)
	})

	expected := []int{1, 2, 3, 4}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d executions, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("Expected order[%d] = %d, got %d", i, v, order[i])
		}
	}
}

func TestPipelineSetOrder(t *testing.T) {
	pipeline := NewPipeline()

	var ran []string
	for _, name := range []string{"a", "b", "c"} {
		n := name
		pipeline.UseStage(Stage{Name: n, Handler: func(ctx *http.FDContext) {
			ran = append(ran, n)
		}})
	}

	pipeline.SetOrder([]string{"c", "a", "b"})

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx *http.FDContext) {})

	want := []string{"c", "a", "b"}
	for i, name := range want {
		if ran[i] != name {
			t.Errorf("Expected ran[%d] = %s, got %s", i, name, ran[i])
		}
	}
}

func TestPipelineSetOrderKeepsUnlistedStages(t *testing.T) {
	pipeline := NewPipeline()

	var ran []string
	for _, name := range []string{"a", "b"} {
		n := name
		pipeline.UseStage(Stage{Name: n, Handler: func(ctx *http.FDContext) {
			ran = append(ran, n)
		}})
	}

	// "b" missing and "ghost" unknown: b still runs, ghost is ignored
	pipeline.SetOrder([]string{"ghost", "a"})

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx *http.FDContext) {})

	if len(ran) != 2 || ran[0] != "a" || ran[1] != "b" {
		t.Errorf("Expected [a b], got %v", ran)
	}
}

func TestPipelineObserverTimings(t *testing.T) {
	pipeline := NewPipeline()
	pipeline.UseStage(Stage{Name: "pass", Handler: func(ctx *http.FDContext) {}})
	pipeline.UseStage(Stage{Name: "stop", Handler: func(ctx *http.FDContext) {
		ctx.Abort()
	}})

	type obs struct {
		name    string
		aborted bool
	}
	var seen []obs
	pipeline.SetObserver(func(name string, cost time.Duration, shortCircuit bool) {
		seen = append(seen, obs{name, shortCircuit})
	})

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx *http.FDContext) {})

	if len(seen) != 2 {
		t.Fatalf("Expected 2 observations, got %d", len(seen))
	}
	if seen[0].name != "pass" || seen[0].aborted {
		t.Errorf("Unexpected first observation: %+v", seen[0])
	}
	if seen[1].name != "stop" || !seen[1].aborted {
		t.Errorf("Unexpected second observation: %+v", seen[1])
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	stage := RequestID()

	ctx := &http.FDContext{}
	stage.Handler(ctx)

	if ctx.IsAborted() {
		t.Error("RequestID should not abort")
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := RateLimiter(2)

	ctx1 := &http.FDContext{}
	ctx2 := &http.FDContext{}
	ctx3 := &http.FDContext{}

	limiter.Handler(ctx1)
	if ctx1.IsAborted() {
		t.Error("First request should not be rate limited")
	}

	limiter.Handler(ctx2)
	if ctx2.IsAborted() {
		t.Error("Second request should not be rate limited")
	}

	limiter.Handler(ctx3)
	if !ctx3.IsAborted() {
		t.Error("Third request should be rate limited")
	}

	time.Sleep(1100 * time.Millisecond)

	ctx4 := &http.FDContext{}
	limiter.Handler(ctx4)
	if ctx4.IsAborted() {
		t.Error("Request after refill should not be rate limited")
	}
}

func BenchmarkPipeline(b *testing.B) {
	pipeline := NewPipeline()
	for i := 0; i < 3; i++ {
		pipeline.Use(func(ctx *http.FDContext) {})
	}

	ctx := &http.FDContext{}
	finalHandler := func(ctx *http.FDContext) {}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pipeline.Execute(ctx, finalHandler)
		ctx.Reset(0, nil)
	}
}

func BenchmarkRequestIDMiddleware(b *testing.B) {
	stage := RequestID()
	ctx := &http.FDContext{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stage.Handler(ctx)
	}
}
