package domain

import "context"

// Channel is the interface for user-facing transports (Telegram, Web, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// Processor handles one turn synchronously. Channels that need a
// blocking request/response cycle (Web, CLI) call this instead of the bus.
type Processor interface {
	Process(ctx context.Context, turn Turn) (Response, error)
}
