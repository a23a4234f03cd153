package middleware

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/adaptive-server/core/http"
)

// HandlerFunc is the signature for middleware handlers
// Uses FDContext for zero-allocation performance
type HandlerFunc func(*http.FDContext)

// Stage is one named middleware in the pipeline. Pinned stages keep
// their registered position regardless of measured cost; use pinning for
// stages with ordering dependencies (recovery, auth).
type Stage struct {
	Name    string
	Pinned  bool
	Handler HandlerFunc
}

// Observer receives per-stage timing after each execution. shortCircuit
// is true when the stage aborted the request.
type Observer func(name string, cost time.Duration, shortCircuit bool)

// Pipeline executes named middleware stages in an order that can be
// swapped atomically while requests are in flight. Registration is not
// concurrency-safe; call Use before serving. Order swaps are.
type Pipeline struct {
	mu     sync.Mutex
	stages []Stage

	// current execution order, atomically replaced on reorder
	active atomic.Pointer[[]Stage]

	observer Observer
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	p := &Pipeline{stages: make([]Stage, 0, 16)}
	empty := []Stage{}
	p.active.Store(&empty)
	return p
}

// Use adds an unpinned stage with a generated name.
func (p *Pipeline) Use(handler HandlerFunc) *Pipeline {
	p.mu.Lock()
	name := fmt.Sprintf("stage-%d", len(p.stages))
	p.mu.Unlock()
	return p.UseStage(Stage{Name: name, Handler: handler})
}

// UseStage adds a named stage in registration order.
func (p *Pipeline) UseStage(s Stage) *Pipeline {
	p.mu.Lock()
	p.stages = append(p.stages, s)
	order := append([]Stage(nil), p.stages...)
	p.mu.Unlock()
	p.active.Store(&order)
	return p
}

// SetObserver installs the timing observer. Call before serving.
func (p *Pipeline) SetObserver(obs Observer) {
	p.observer = obs
}

// Stages returns the registered stages in registration order.
func (p *Pipeline) Stages() []Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Stage(nil), p.stages...)
}

// SetOrder atomically replaces the execution order. Names not present in
// the pipeline are ignored; registered stages missing from the order are
// appended so no stage is ever dropped by a reorder.
func (p *Pipeline) SetOrder(names []string) {
	p.mu.Lock()
	byName := make(map[string]Stage, len(p.stages))
	for _, s := range p.stages {
		byName[s.Name] = s
	}
	order := make([]Stage, 0, len(p.stages))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if s, ok := byName[name]; ok && !seen[name] {
			order = append(order, s)
			seen[name] = true
		}
	}
	for _, s := range p.stages {
		if !seen[s.Name] {
			order = append(order, s)
		}
	}
	p.mu.Unlock()
	p.active.Store(&order)
}

// Order returns the names of the current execution order.
func (p *Pipeline) Order() []string {
	stages := *p.active.Load()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return names
}

// Execute runs the stages in the current order, then the final handler
// unless a stage aborted. Stage timings go to the observer.
func (p *Pipeline) Execute(ctx *http.FDContext, finalHandler HandlerFunc) {
	stages := *p.active.Load()

	// Fast path: no middlewares
	if len(stages) == 0 {
		finalHandler(ctx)
		return
	}

	for i := range stages {
		s := &stages[i]
		if p.observer != nil {
			start := time.Now()
			s.Handler(ctx)
			p.observer(s.Name, time.Since(start), ctx.IsAborted())
		} else {
			s.Handler(ctx)
		}
		if ctx.IsAborted() {
			return
		}
	}

	finalHandler(ctx)
}

// Common middleware implementations

// Logger logs each request method and path.
func Logger(log *zap.Logger) Stage {
	if log == nil {
		log = zap.NewNop()
	}
	return Stage{
		Name: "logger",
		Handler: func(ctx *http.FDContext) {
			log.Debug("request",
				zap.String("method", ctx.Method()),
				zap.String("path", ctx.Path()))
		},
	}
}

// CORS adds CORS headers
func CORS() Stage {
	return Stage{
		Name: "cors",
		Handler: func(ctx *http.FDContext) {
			ctx.SetHeader("Access-Control-Allow-Origin", "*")
			ctx.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			ctx.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if ctx.Method() == "OPTIONS" {
				ctx.Abort()
				ctx.Status(204)
			}
		},
	}
}

// RateLimiter implements rate limiting. Pinned: it must run before any
// stage that does real work.
func RateLimiter(requestsPerSecond int) Stage {
	var (
		tokens     int
		lastRefill time.Time
		mu         sync.Mutex
	)

	tokens = requestsPerSecond
	lastRefill = time.Now()

	return Stage{
		Name:   "ratelimit",
		Pinned: true,
		Handler: func(ctx *http.FDContext) {
			mu.Lock()

			now := time.Now()
			elapsed := now.Sub(lastRefill)
			if elapsed > time.Second {
				tokens = requestsPerSecond
				lastRefill = now
			}

			if tokens > 0 {
				tokens--
				mu.Unlock()
				return
			}

			mu.Unlock()

			ctx.Abort()
			ctx.JSON(429, map[string]interface{}{
				"error": "Too Many Requests",
			})
		},
	}
}

// RequestID adds a unique request ID
func RequestID() Stage {
	var counter uint64

	return Stage{
		Name: "requestid",
		Handler: func(ctx *http.FDContext) {
			id := atomic.AddUint64(&counter, 1)
			ctx.SetHeader("X-Request-ID", fmt.Sprintf("%d", id))
		},
	}
}
