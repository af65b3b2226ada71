package publisher

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer opens broker connections. Reconnect and retry policy belong to the
// Dialer, not to the Publisher.
type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}

// Connection is one broker connection that channels are multiplexed over.
type Connection interface {
	// Channel opens a new channel in publisher-confirm mode.
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is used by at most one publish at a time.
type Channel interface {
	// DeclareQueue declares a durable, non-exclusive, non-auto-delete queue.
	DeclareQueue(name string) error
	// Publish sends msg to queue on the default exchange. The returned
	// Confirmation is nil when the channel is not in confirm mode.
	Publish(ctx context.Context, queue string, msg amqp.Publishing) (Confirmation, error)
	IsClosed() bool
	Close() error
}

// Confirmation resolves once the broker acks or nacks a delivery.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}
