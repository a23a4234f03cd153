package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/adaptive-server/core/adaptive"
)

// Feed streams optimizer decisions and periodic reports to SSE
// subscribers. One event is published per optimize cycle.
type Feed struct {
	engine   *adaptive.Engine
	broker   *Broker
	log      *zap.Logger
	interval time.Duration

	eventID   atomic.Uint64
	clientSeq atomic.Uint64

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// decisionEvent is the wire form of a published decision.
type decisionEvent struct {
	Cycle           uint64   `json:"cycle"`
	HotRoutes       []string `json:"hot_routes"`
	MemoizedRoutes  []string `json:"memoized_routes"`
	MiddlewareOrder []string `json:"middleware_order"`
}

// NewFeed creates a feed over the given engine. Call Start to begin
// publishing.
func NewFeed(engine *adaptive.Engine, interval time.Duration, log *zap.Logger) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		engine:   engine,
		broker:   NewBroker(1000, 30*time.Second),
		log:      log,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins watching the engine for new decisions.
func (f *Feed) Start() {
	if !f.running.CompareAndSwap(false, true) {
		return
	}
	go f.watch()
}

// Close stops publishing and disconnects all subscribers.
func (f *Feed) Close() {
	if !f.running.CompareAndSwap(true, false) {
		return
	}
	close(f.stop)
	<-f.done
	f.broker.Close()
}

func (f *Feed) watch() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	var lastCycle uint64
	for {
		select {
		case <-ticker.C:
			d := f.engine.Decision()
			if d == nil || d.Cycle == lastCycle {
				continue
			}
			lastCycle = d.Cycle
			f.publishDecision(d)
			f.publishReport()

		case <-f.stop:
			return
		}
	}
}

func (f *Feed) publishDecision(d *adaptive.Decision) {
	ev := decisionEvent{
		Cycle:           d.Cycle,
		HotRoutes:       make([]string, 0, len(d.HotSet)),
		MemoizedRoutes:  make([]string, 0, len(d.Memoized)),
		MiddlewareOrder: d.MiddlewareOrder,
	}
	for key := range d.HotSet {
		ev.HotRoutes = append(ev.HotRoutes, key.String())
	}
	for key := range d.Memoized {
		ev.MemoizedRoutes = append(ev.MemoizedRoutes, key.String())
	}

	data, err := json.Marshal(ev)
	if err != nil {
		f.log.Error("marshal decision event", zap.Error(err))
		return
	}
	f.publish("decision", string(data))
}

func (f *Feed) publishReport() {
	report := f.engine.Report()
	data, err := json.Marshal(report)
	if err != nil {
		f.log.Error("marshal report event", zap.Error(err))
		return
	}
	f.publish("report", string(data))
}

func (f *Feed) publish(eventType, data string) {
	f.broker.Publish(&Event{
		ID:    fmt.Sprintf("opt-%d", f.eventID.Add(1)),
		Event: eventType,
		Data:  data,
	})
}

// ClientCount returns the number of connected subscribers.
func (f *Feed) ClientCount() int {
	return f.broker.ClientCount()
}

// Stats returns broker statistics.
func (f *Feed) Stats() BrokerStats {
	return f.broker.Stats()
}

// ServeHTTP streams feed events to an HTTP client until it disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := NewClient(fmt.Sprintf("feed-%d", f.clientSeq.Add(1)), 100)
	if err := f.broker.Register(client); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer f.broker.Unregister(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(FormatEvent(&Event{
		Event: "connected",
		Data:  fmt.Sprintf("client_id:%s", client.ID),
	})); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case event, open := <-client.Channel:
			if !open {
				return
			}
			if _, err := w.Write(FormatEvent(event)); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return

		case <-client.Done():
			return
		}
	}
}
