// Package events provides the in-process pub/sub bus for acquisition events
// and the append-only acquisition log.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventHandlerStarted is published when the dispatcher enters a handler.
	EventHandlerStarted EventType = "handler_started"
	// EventHandlerFinished is published when a handler returns, with its outcome.
	EventHandlerFinished EventType = "handler_finished"
	// EventFrameCollected is published for each frame a cRED run acquires.
	EventFrameCollected EventType = "frame_collected"
	// EventExperimentDone is published when a SED experiment run returns.
	EventExperimentDone EventType = "experiment_done"
	// EventWatcherUpdated is published after each successful watcher poll.
	EventWatcherUpdated EventType = "watcher_updated"
	// EventDaemonStopping is published when the dispatcher observes Exit.
	EventDaemonStopping EventType = "daemon_stopping"
)

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus. Delivery is asynchronous via buffered
// channels; a full subscriber channel drops the event rather than stalling
// the publisher. Handlers publish from the dispatch path, so a slow
// subscriber must never be able to delay acquisition.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for one event type. The function runs on
// its own goroutine. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					// A panicking subscriber must not take the bus down.
					recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers of the given type without
// blocking. Events to full subscribers are dropped.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
