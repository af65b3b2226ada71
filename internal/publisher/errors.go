package publisher

import (
	"context"
	"net"

	"codeberg.org/gec/sensord/internal/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig

	// Connection Errors
	ErrNotInitialized    = errors.ErrorCode("publisher_not_initialized")
	ErrBrokerUnreachable = errors.ErrorCode("publisher_broker_unreachable")
	ErrConnectionClosed  = errors.ErrorCode("publisher_connection_closed")
	ErrChannelClosed     = errors.ErrorCode("publisher_channel_closed")
	ErrDeclareFailed     = errors.ErrorCode("publisher_declare_failed")
	ErrPublisherClosed   = errors.ErrorCode("publisher_closed")

	// Publish Errors
	ErrUnknownEvent  = errors.ErrorCode("publisher_unknown_event")
	ErrUnroutable    = errors.ErrorCode("publisher_unroutable")
	ErrEncodeFailed  = errors.ErrorCode("publisher_encode_failed")
	ErrPublishFailed = errors.ErrorCode("publisher_publish_failed")
	ErrNacked        = errors.ErrorCode("publisher_nacked")

	// Operation Errors
	ErrCanceled = errors.ErrCanceled
)

var connectionErrors = []errors.ErrorCode{
	ErrNotInitialized,
	ErrBrokerUnreachable,
	ErrConnectionClosed,
	ErrChannelClosed,
}

// IsConnectionError reports whether err means the broker connection or a
// channel is gone, so the caller may Initialize again and retry.
func IsConnectionError(err error) bool {
	for _, code := range connectionErrors {
		if errors.HasCode(err, code) {
			return true
		}
	}
	return false
}

// IsCanceled reports whether the operation gave up because its context ended.
func IsCanceled(err error) bool {
	return errors.HasCode(err, ErrCanceled)
}

// classify maps a transport error onto the publisher's error kinds.
// connClosed tells whether the owning connection is known to be gone.
func classify(ctx context.Context, err error, connClosed bool, fallback errors.ErrorCode) error {
	errFactory := errors.New()

	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errFactory.Wrap(ErrCanceled, err)
	}

	if errors.Is(err, amqp.ErrClosed) {
		if connClosed {
			return errFactory.Wrap(ErrConnectionClosed, err)
		}
		return errFactory.Wrap(ErrChannelClosed, err)
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		if !amqpErr.Recover || connClosed {
			return errFactory.Wrap(ErrConnectionClosed, err)
		}
		return errFactory.Wrap(ErrChannelClosed, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errFactory.Wrap(ErrBrokerUnreachable, err)
	}

	return errFactory.Wrap(fallback, err)
}
