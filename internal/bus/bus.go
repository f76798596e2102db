// Package bus is the in-process message bus between channels and the
// turn orchestrator.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"bimabot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based implementation of domain.MessageBus.
// Turns flow in through one buffered channel, preserving receipt order;
// responses are dispatched to the handler registered by the originating
// transport.
type InMemoryBus struct {
	inbound  chan domain.Turn
	handlers map[string]func(domain.Response)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates an InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.Turn, bufferSize),
		handlers: make(map[string]func(domain.Response)),
		logger:   logger,
	}
}

// Publish enqueues a turn. Blocks up to 10 seconds when the bus is full
// instead of dropping; a drop is logged and the turn is lost.
func (b *InMemoryBus) Publish(turn domain.Turn) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- turn:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", turn.Channel, "user", turn.UserID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- turn:
			b.logger.Info("turn delivered after wait", "channel", turn.Channel)
		case <-timer.C:
			b.logger.Error("turn dropped: bus full for 10s",
				"channel", turn.Channel,
				"user", turn.UserID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Turn {
	return b.inbound
}

func (b *InMemoryBus) SendOutbound(resp domain.Response) {
	b.mu.RLock()
	handler, ok := b.handlers[resp.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", resp.Channel)
		return
	}

	handler(resp)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.Response)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
