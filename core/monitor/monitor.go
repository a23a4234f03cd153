// Package monitor exposes the optimization state of a running engine
// over a conventional net/http surface: Prometheus metrics, rendered
// and JSON reports, and a live SSE feed of optimizer decisions.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/searchktools/adaptive-server/core/adaptive"
	"github.com/searchktools/adaptive-server/core/http2"
	"github.com/searchktools/adaptive-server/core/sse"
)

// Monitor serves the observability endpoints on a dedicated port,
// separate from the request-serving epoll loop.
type Monitor struct {
	engine *adaptive.Engine
	feed   *sse.Feed
	server *http2.Server
	log    *zap.Logger
}

// New builds a monitor for the given engine listening on addr.
func New(engine *adaptive.Engine, addr string, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}

	m := &Monitor{
		engine: engine,
		feed:   sse.NewFeed(engine, time.Second, log.Named("feed")),
		log:    log,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/report", m.handleReport)
	mux.HandleFunc("/report.json", m.handleReportJSON)
	mux.Handle("/events", m.feed)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	m.server = http2.NewServer(http2.Config{
		Addr:    addr,
		Handler: mux,
		Logger:  log,
	})

	return m
}

// Run starts the monitor listener. It blocks until Close is called.
func (m *Monitor) Run() error {
	m.feed.Start()
	err := m.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops the feed and the listener.
func (m *Monitor) Close() error {
	m.feed.Close()
	return m.server.Close()
}

func (m *Monitor) handleReport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(m.engine.Report().Render()))
}

func (m *Monitor) handleReportJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.engine.Report()); err != nil {
		m.log.Error("encode report", zap.Error(err))
	}
}
