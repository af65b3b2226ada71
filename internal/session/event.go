package session

import (
	"time"

	"codeberg.org/gec/sensord/internal/analyzer"
	"github.com/google/uuid"
)

// Event is emitted on a session boundary: Started or Completed.
type Event interface {
	SessionID() uuid.UUID
	isEvent()
}

// Started is emitted when a pass opens.
type Started struct {
	CorrelationID uuid.UUID
	StartedAt     time.Time
}

// Completed is emitted when a pass closes, carrying its best reading.
type Completed struct {
	CorrelationID uuid.UUID
	CompletedAt   time.Time
	Best          analyzer.Reading
}

func (e Started) SessionID() uuid.UUID   { return e.CorrelationID }
func (e Completed) SessionID() uuid.UUID { return e.CorrelationID }

func (Started) isEvent()   {}
func (Completed) isEvent() {}
