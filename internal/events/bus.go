// Package events is a small in-process pub/sub bus for invocation lifecycle
// notifications. Delivery is asynchronous with bounded per-subscriber
// buffers; a slow subscriber drops events rather than stalling invocations.
package events

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the default per-subscriber channel capacity.
	DefaultBufferSize = 64

	// TypeAttemptStarted marks one process spawn.
	TypeAttemptStarted = "AttemptStarted"
	// TypeAttemptFailed marks one failed attempt, retried or not.
	TypeAttemptFailed = "AttemptFailed"
	// TypeInvocationFinished marks the end of the whole attempt loop.
	TypeInvocationFinished = "InvocationFinished"
	// TypeSessionRecorded marks a continuation token write.
	TypeSessionRecorded = "SessionRecorded"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string
	Timestamp time.Time
	Backend   string
	RunID     string
	SessionID string
	Detail    string
}

// Handler consumes a delivered event.
type Handler func(Event)

// Logger receives warnings about dropped events.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes bus construction.
type Option func(*Bus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *Bus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures the sink for dropped-event warnings.
func WithLogger(logger Logger) Option {
	return func(bus *Bus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

type subscriber struct {
	events chan Event
}

// Bus fans events out to type-filtered and catch-all subscribers.
type Bus struct {
	mu          sync.RWMutex
	byType      map[string][]*subscriber
	all         []*subscriber
	bufferSize  int
	logger      Logger
	workerGroup sync.WaitGroup
}

// New constructs an event bus.
func New(options ...Option) *Bus {
	bus := &Bus{
		byType:     map[string][]*subscriber{},
		bufferSize: DefaultBufferSize,
	}
	for _, option := range options {
		if option != nil {
			option(bus)
		}
	}
	return bus
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	eventType = strings.TrimSpace(eventType)
	if b == nil || eventType == "" || handler == nil {
		return
	}
	sub := b.startSubscriber(handler)
	b.mu.Lock()
	b.byType[eventType] = append(b.byType[eventType], sub)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	if b == nil || handler == nil {
		return
	}
	sub := b.startSubscriber(handler)
	b.mu.Lock()
	b.all = append(b.all, sub)
	b.mu.Unlock()
}

// Publish delivers an event without blocking the publisher. Events to full
// subscriber buffers are dropped with a warning.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.all)+len(b.byType[event.Type]))
	targets = append(targets, b.byType[event.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.events <- event:
		default:
			if b.logger != nil {
				b.logger.Printf("events: dropped %s for backend %s (subscriber buffer full)", event.Type, event.Backend)
			}
		}
	}
}

func (b *Bus) startSubscriber(handler Handler) *subscriber {
	sub := &subscriber{events: make(chan Event, b.bufferSize)}
	b.workerGroup.Add(1)
	go func() {
		defer b.workerGroup.Done()
		for event := range sub.events {
			handler(event)
		}
	}()
	return sub
}
