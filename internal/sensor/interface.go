package sensor

import (
	"context"

	"codeberg.org/gec/sensord/internal/session"
)

// Publisher delivers session events to the broker.
type Publisher interface {
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, event session.Event) error
}

// KeepAlive pings the analyzer.
type KeepAlive interface {
	Ping() error
	Schedule()
	Stop()
}
