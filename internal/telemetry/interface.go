package telemetry

import (
	"context"
	"time"

	"codeberg.org/gec/sensord/internal/analyzer"
	"github.com/google/uuid"
)

// Collector records pipeline diagnostics. It never feeds back into the
// pipeline; failures are reported to the caller for logging only.
type Collector interface {
	RecordReading(ctx context.Context, sample *ReadingSample) error
	RecordSession(ctx context.Context, sample *SessionSample) error
	Close() error
}

// Repository stores samples.
type Repository interface {
	RecordReading(sample *ReadingSample) error
	RecordSession(sample *SessionSample) error
	Close() error
}

// ReadingSample is one decoded reading. CorrelationID is uuid.Nil outside
// a session.
type ReadingSample struct {
	Timestamp     time.Time
	CorrelationID uuid.UUID
	Reading       analyzer.Reading
}

type SessionEvent string

const (
	SessionStarted   SessionEvent = "started"
	SessionCompleted SessionEvent = "completed"
)

// SessionSample is one session boundary and whether its command reached the
// broker. Best is set for completed sessions only.
type SessionSample struct {
	Timestamp     time.Time
	CorrelationID uuid.UUID
	Event         SessionEvent
	Best          *analyzer.Reading
	Published     bool
}
