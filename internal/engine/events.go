package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

// EventBus fans engine lifecycle events out to presentation-layer
// subscribers. Deliveries are non-blocking: a subscriber whose buffer is
// full loses the event rather than stalling the supervisor loop.
type EventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers []chan schemas.Event
	bufferSize  int
	shutdown    bool
}

// NewEventBus creates a bus with the given per-subscriber buffer size.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventBus{
		logger:     logger.Named("event_bus"),
		bufferSize: bufferSize,
	}
}

// Subscribe returns a channel of events and an unsubscribe function. The
// channel is closed on unsubscribe or bus shutdown.
func (b *EventBus) Subscribe() (<-chan schemas.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan schemas.Event, b.bufferSize)
	if b.shutdown {
		close(ch)
		return ch, func() {}
	}
	b.subscribers = append(b.subscribers, ch)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.shutdown {
			return
		}
		for i, sub := range b.subscribers {
			if sub == ch {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber, dropping it for any whose
// buffer is full.
func (b *EventBus) Publish(eventType schemas.EventType, message string, payload interface{}) {
	event := schemas.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Message:   message,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.shutdown {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("Dropping event for slow subscriber", zap.String("type", string(eventType)))
		}
	}
}

// Shutdown closes every subscriber channel and rejects further publishes.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return
	}
	b.shutdown = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
