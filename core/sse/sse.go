package sse

import (
	"fmt"
	"sync"
	"time"
)

// Event represents a Server-Sent Event
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// Client represents an SSE client connection
type Client struct {
	ID        string
	Channel   chan *Event
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new SSE client
func NewClient(id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Client{
		ID:      id,
		Channel: make(chan *Event, bufferSize),
		closeCh: make(chan struct{}),
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		close(c.Channel)
	})
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Send sends an event to the client (non-blocking)
func (c *Client) Send(event *Event) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case c.Channel <- event:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the client disconnects.
func (c *Client) Done() <-chan struct{} {
	return c.closeCh
}

// BrokerStats summarizes broker activity.
type BrokerStats struct {
	TotalClients    int64
	CurrentClients  int
	MessagesSent    int64
	MessagesDropped int64
}

// Broker manages SSE connections
type Broker struct {
	clients     sync.Map
	newClients  chan *Client
	deadClients chan *Client
	messages    chan *Event
	stop        chan struct{}
	stopOnce    sync.Once

	totalClients  int64
	messagesCount int64
	droppedCount  int64

	keepaliveInterval time.Duration
	maxClients        int
}

// NewBroker creates a new SSE broker
func NewBroker(maxClients int, keepaliveInterval time.Duration) *Broker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if keepaliveInterval <= 0 {
		keepaliveInterval = 30 * time.Second
	}

	broker := &Broker{
		newClients:        make(chan *Client, 100),
		deadClients:       make(chan *Client, 100),
		messages:          make(chan *Event, 1000),
		stop:              make(chan struct{}),
		keepaliveInterval: keepaliveInterval,
		maxClients:        maxClients,
	}

	go broker.run()
	go broker.keepalive()

	return broker
}

func (b *Broker) run() {
	for {
		select {
		case client := <-b.newClients:
			b.clients.Store(client.ID, client)
			b.totalClients++

		case client := <-b.deadClients:
			b.clients.Delete(client.ID)
			client.Close()

		case event := <-b.messages:
			b.messagesCount++
			b.broadcast(event)

		case <-b.stop:
			b.clients.Range(func(_, value interface{}) bool {
				value.(*Client).Close()
				return true
			})
			return
		}
	}
}

func (b *Broker) keepalive() {
	ticker := time.NewTicker(b.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.broadcast(&Event{
				Event: "keepalive",
				Data:  fmt.Sprintf("timestamp:%d", time.Now().Unix()),
			})
		case <-b.stop:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.clients.Range(func(key, value interface{}) bool {
		client := value.(*Client)
		if !client.Send(event) {
			b.droppedCount++
		}
		return true
	})
}

func (b *Broker) Register(client *Client) error {
	if b.ClientCount() >= b.maxClients {
		return fmt.Errorf("max clients reached (%d)", b.maxClients)
	}

	b.newClients <- client
	return nil
}

func (b *Broker) Unregister(client *Client) {
	b.deadClients <- client
}

func (b *Broker) Publish(event *Event) {
	select {
	case b.messages <- event:
	case <-b.stop:
	}
}

// Close stops the broker goroutines and disconnects all clients.
func (b *Broker) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *Broker) ClientCount() int {
	count := 0
	b.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		TotalClients:    b.totalClients,
		CurrentClients:  b.ClientCount(),
		MessagesSent:    b.messagesCount,
		MessagesDropped: b.droppedCount,
	}
}

func FormatEvent(event *Event) []byte {
	var buf []byte

	if event.ID != "" {
		buf = append(buf, fmt.Sprintf("id: %s\n", event.ID)...)
	}

	if event.Event != "" {
		buf = append(buf, fmt.Sprintf("event: %s\n", event.Event)...)
	}

	if event.Retry > 0 {
		buf = append(buf, fmt.Sprintf("retry: %d\n", event.Retry)...)
	}

	if event.Data != "" {
		buf = append(buf, fmt.Sprintf("data: %s\n", event.Data)...)
	}

	buf = append(buf, '\n')
	return buf
}
