// Package events fans tab, injection and layout notifications out to the
// presentation layer.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBufSize = 256

type Type string

const (
	TabCreated             Type = "tab-created"
	TabClosed              Type = "tab-closed"
	TabUpdated             Type = "tab-updated"
	NavigationStateChanged Type = "navigation-state-changed"
	InjectionCompleted     Type = "injection-completed"
	LayoutDrift            Type = "layout-drift"
)

// Event is one notification. Data is the JSON-encoded payload.
type Event struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

// Publisher is the emitting side used by the tab registry and engine.
type Publisher interface {
	Publish(typ Type, payload any)
}

type discard struct{}

func (discard) Publish(Type, any) {}

// Discard drops every event.
var Discard Publisher = discard{}

// Broker fans out events to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. Returns the subscriber ID and a channel
// to receive events on. The channel is buffered; slow consumers will have
// events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish encodes payload and delivers it to every subscriber without
// blocking. It is safe to call from CDP event handlers.
func (b *Broker) Publish(typ Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("events encode failed", "type", typ, "error", err)
		return
	}
	b.publish(Event{Type: typ, Data: data, At: time.Now()})
}

func (b *Broker) publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
