package session

import (
	"time"

	"codeberg.org/gec/sensord/internal/analyzer"
	"github.com/google/uuid"
)

// State is either Idle or Active.
type State interface {
	isState()
}

// Idle means no measurement pass is open.
type Idle struct{}

// Active is an open measurement pass and the best reading seen so far.
type Active struct {
	CorrelationID uuid.UUID
	StartedAt     time.Time
	Best          *analyzer.Reading
}

func (Idle) isState()   {}
func (Active) isState() {}
