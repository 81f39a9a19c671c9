package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes one event payload
type Handler func(ctx context.Context, payload any) error

// Bus is an in-process synchronous publish/subscribe bus.
// Handler errors and panics are logged, never returned to the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

var errPanic = errors.New("handler panicked")

func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for topic
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[topic] = append(b.handlers[topic], h)
	slog.Debug("Event handler subscribed", "topic", topic)
}

// Publish runs every handler of topic in registration order and returns the
// number of handlers that failed.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) int {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("No handlers for event", "topic", topic)
		return 0
	}

	failed := 0
	for i, h := range handlers {
		if err := run(ctx, h, payload); err != nil {
			failed++
			slog.Error("Event handler failed", "topic", topic, "handler", i, "error", err)
		}
	}

	return failed
}

// Topics returns the topics that have at least one handler
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	return topics
}

func run(ctx context.Context, h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return h(ctx, payload)
}
