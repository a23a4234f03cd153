/*
Package adaptive-server provides a self-optimizing HTTP server framework for Go.

Adaptive-Server combines a zero-allocation epoll engine with a runtime
optimization layer: it observes live traffic, scores route heat, forecasts
latency, and continuously reshapes the serving path. Hot routes are promoted
in the router, middleware stages are reordered by measured cost, and stable
cacheable routes are memoized automatically.

Features

  - Zero-allocation epoll engine with smart pooling and GC tuning
  - Traffic recorder: per-route RPS, latency percentiles, error rates
  - Heat scoring and hot-route promotion in the router fast path
  - Latency prediction: EWMA forecasting, trend detection, anomaly flagging
  - Automatic memoization: LRU response cache with TTL and invalidation
  - Cost-based middleware reordering with pinned stages
  - Observability: Prometheus metrics, rendered reports, live SSE decision feed

Quick Start

Basic usage example:

	package main

	import (
	    "github.com/searchktools/adaptive-server/app"
	    "github.com/searchktools/adaptive-server/config"
	    "github.com/searchktools/adaptive-server/core/http"
	)

	func main() {
	    cfg, err := config.New()
	    if err != nil {
	        panic(err)
	    }

	    application, err := app.New(cfg)
	    if err != nil {
	        panic(err)
	    }

	    engine := application.Engine()
	    engine.GET("/hello", func(ctx http.Context) {
	        ctx.String(200, "Hello, World!")
	    })

	    application.Run()
	}

Modules

The framework is organized into several modules:

  - app: Application lifecycle management
  - config: YAML/flag configuration with adaptive tuning section
  - core: HTTP server core engine and adaptive dispatch
  - core/adaptive: Traffic recording, scoring, prediction, memoization, reporting
  - core/http: HTTP request/response handling and response capture
  - core/router: High-performance routing with hot-route promotion
  - core/middleware: Reorderable middleware pipeline
  - core/pools: Object pooling (workers, buffers, connections)
  - core/poller: I/O multiplexing (epoll)
  - core/optimize: Performance optimizations (SIMD)
  - core/metrics: Prometheus instrumentation
  - core/sse: Server-Sent Events decision feed
  - core/http2: HTTP/2 monitoring surface
  - core/monitor: Metrics and report endpoints

For more information, see https://github.com/searchktools/adaptive-server
*/
package adaptiveserver
