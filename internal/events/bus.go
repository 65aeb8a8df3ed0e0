// Package events is the in-process pub/sub bus for internal service
// signals such as notification.sent. It is unrelated to the webhook event
// envelope: webhook events are persisted deliveries, bus messages are
// ephemeral broadcasts to in-process subscribers.
package events

import (
	"sync"
	"time"
)

// Topics published by the notification service.
const (
	TopicNotificationSent   = "notification.sent"
	TopicNotificationFailed = "notification.failed"
	TopicNotificationRead   = "notification.read"
)

// Message is one broadcast on a topic.
type Message struct {
	Topic     string         `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Bus is a non-blocking broadcast bus. Subscribers receive messages on
// buffered channels; a full subscriber misses messages rather than
// blocking the publisher. Safe to use from multiple goroutines.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan Message]struct{} // topic -> subscriber set
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Message]struct{})}
}

// Publish broadcasts payload on topic. Non-blocking; nil-safe.
func (b *Bus) Publish(topic string, payload map[string]any) {
	if b == nil {
		return
	}
	msg := Message{Topic: topic, Timestamp: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
			// Subscriber is full; drop rather than block the pipeline.
		}
	}
}

// Subscribe returns a buffered channel receiving messages on topic and a
// cancel function that removes the subscription and closes the channel.
func (b *Bus) Subscribe(topic string, bufSize int) (<-chan Message, func()) {
	ch := make(chan Message, bufSize)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan Message]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
