// Package bus carries inbound message events from the transport to the
// dispatcher.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"chatsum/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound chan *domain.MessageEvent
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan *domain.MessageEvent, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish blocks up to the publish timeout if the bus is full, then drops
// the event.
func (b *InMemoryBus) Publish(ev *domain.MessageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- ev:
	default:
		b.logger.Warn("inbound bus full, waiting...", "message_id", ev.MessageID, "user_id", ev.UserID)
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.inbound <- ev:
			b.logger.Info("event delivered after wait", "message_id", ev.MessageID)
		case <-timer.C:
			b.logger.Error("event dropped: bus full",
				"message_id", ev.MessageID,
				"user_id", ev.UserID,
				"waited", b.timeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan *domain.MessageEvent {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
