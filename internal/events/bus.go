// Package events is the in-process event bus that carries status messages
// and state transitions from the client components to the status line, the
// MQTT publisher and the logs.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names an event type.
type Kind string

// Event kinds.
const (
	KindConnectivity Kind = "connectivity.changed"
	KindProbe        Kind = "probe.completed"
	KindQueueFlushed Kind = "queue.flushed"
	KindScoreLoaded  Kind = "score.loaded"
	KindSignal       Kind = "signal.outcome"
	KindWorkerState  Kind = "worker.state"
	KindLocation     Kind = "location.unavailable"
)

// Level is the user-facing severity of a status message.
type Level string

// Status levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one published occurrence. Message is the status-line text shown
// to the user; it may be empty for purely internal events.
type Event struct {
	Kind       Kind           `json:"kind"`
	Level      Level          `json:"level"`
	Message    string         `json:"message,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Handler processes events.
type Handler func(event *Event)

// Publisher is the write side of the bus handed to components.
type Publisher interface {
	Publish(event *Event)
}

const busBufferSize = 256

// Bus is an async pub/sub for events. Publish never blocks: events go to a
// buffered channel drained by a single worker goroutine, so handlers run in
// publish order.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	eventCh  chan *Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewBus creates a bus and starts its worker.
func NewBus() *Bus {
	b := &Bus{
		eventCh: make(chan *Event, busBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event. If the buffer is full the event is dropped.
// Events published after Stop are discarded.
func (b *Bus) Publish(event *Event) {
	if b == nil || event == nil {
		return
	}
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}

	select {
	case b.eventCh <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stop drains pending events, then stops the worker and waits for it.
// Safe to call multiple times.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *Bus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		safeCall(handler, event)
	}
}

// safeCall keeps the worker alive when a handler panics.
func safeCall(handler Handler, event *Event) {
	defer func() {
		recover() //nolint:errcheck // handler panics must not stop the bus
	}()
	handler(event)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(*Event) {}
