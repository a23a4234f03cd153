package sse

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/adaptive-server/core/adaptive"
)

func TestBrokerRegisterAndPublish(t *testing.T) {
	broker := NewBroker(100, 30*time.Second)
	defer broker.Close()

	client := NewClient("test-client", 10)
	if err := broker.Register(client); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	broker.Publish(&Event{Event: "message", Data: "hello"})

	select {
	case ev := <-client.Channel:
		if ev.Data != "hello" {
			t.Errorf("Expected data 'hello', got '%s'", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Event not delivered")
	}

	broker.Unregister(client)
}

func TestClientSendAfterClose(t *testing.T) {
	client := NewClient("test-client", 10)
	client.Close()

	if client.Send(&Event{Data: "x"}) {
		t.Error("Send to closed client should fail")
	}
	if !client.IsClosed() {
		t.Error("Client should report closed")
	}
}

func TestFormatEvent(t *testing.T) {
	event := &Event{
		ID:    "123",
		Event: "decision",
		Data:  "cycle:7",
		Retry: 5000,
	}

	formatted := string(FormatEvent(event))

	if !strings.Contains(formatted, "id: 123") {
		t.Error("Missing id field")
	}
	if !strings.Contains(formatted, "event: decision") {
		t.Error("Missing event field")
	}
	if !strings.Contains(formatted, "data: cycle:7") {
		t.Error("Missing data field")
	}
	if !strings.Contains(formatted, "retry: 5000") {
		t.Error("Missing retry field")
	}
	if !strings.HasSuffix(formatted, "\n\n") {
		t.Error("Should end with double newline")
	}
}

func TestFeedPublishDecision(t *testing.T) {
	engine, err := adaptive.New(adaptive.DefaultConfig())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	feed := NewFeed(engine, time.Second, nil)
	defer feed.broker.Close()

	client := NewClient("sub", 10)
	if err := feed.broker.Register(client); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Wait for the broker goroutine to pick up the registration.
	deadline := time.Now().Add(time.Second)
	for feed.broker.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	feed.publishDecision(&adaptive.Decision{
		Cycle:           3,
		HotSet:          map[adaptive.RouteKey]adaptive.HotSetEntry{{Method: "GET", Path: "/users"}: {}},
		MiddlewareOrder: []string{"auth", "logging"},
	})

	select {
	case ev := <-client.Channel:
		if ev.Event != "decision" {
			t.Fatalf("Expected decision event, got %q", ev.Event)
		}
		var payload struct {
			Cycle     uint64   `json:"cycle"`
			HotRoutes []string `json:"hot_routes"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			t.Fatalf("Invalid JSON payload: %v", err)
		}
		if payload.Cycle != 3 {
			t.Errorf("Expected cycle 3, got %d", payload.Cycle)
		}
		if len(payload.HotRoutes) != 1 || payload.HotRoutes[0] != "GET /users" {
			t.Errorf("Unexpected hot routes: %v", payload.HotRoutes)
		}
	case <-time.After(time.Second):
		t.Fatal("Decision event not delivered")
	}
}
