package session

import (
	"time"

	"codeberg.org/gec/sensord/internal/analyzer"
	"codeberg.org/gec/sensord/internal/logger"
	"github.com/cockroachdb/apd/v3"
)

// Machine recognises one vehicle measurement pass at a time from a stream of
// readings. A pass opens when CO reaches the start threshold and closes on the
// first reading below it; meanwhile the reading with lambda closest to 1 is
// retained.
//
// Machine is single-writer: Evaluate must be called from one goroutine, in
// reading arrival order.
type Machine struct {
	threshold apd.Decimal
	ids       IDGenerator
	now       func() time.Time
	log       logger.Logger
	state     State
}

// Option configures a Machine.
type Option func(*Machine)

// WithIDGenerator replaces the UUIDv7 correlation id source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(m *Machine) {
		m.ids = ids
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithLogger attaches a logger for transition messages.
func WithLogger(log logger.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// NewMachine returns an Idle machine using threshold as the CO start level.
func NewMachine(threshold *apd.Decimal, opts ...Option) *Machine {
	m := &Machine{
		ids:   UUIDv7Generator{},
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.Nop(),
		state: Idle{},
	}
	m.threshold.Set(threshold)

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	if active, ok := m.state.(Active); ok && active.Best != nil {
		best := *active.Best
		active.Best = &best
		return active
	}
	return m.state
}

// Evaluate applies one reading and returns the event it produces, or nil.
func (m *Machine) Evaluate(r analyzer.Reading) Event {
	aboveThreshold := r.CO.Cmp(&m.threshold) >= 0

	switch state := m.state.(type) {
	case Idle:
		if !aboveThreshold {
			return nil
		}
		return m.start(r)

	case Active:
		if aboveThreshold {
			m.consider(state, r)
			return nil
		}
		return m.complete(state)
	}

	return nil
}

func (m *Machine) start(first analyzer.Reading) Event {
	active := Active{
		CorrelationID: m.ids.Generate(),
		StartedAt:     m.now(),
		Best:          &first,
	}
	m.state = active

	m.log.Info().
		Str("correlation_id", active.CorrelationID.String()).
		Str("co", first.CO.Text('f')).
		Msg("Measuring session started")

	return Started{
		CorrelationID: active.CorrelationID,
		StartedAt:     active.StartedAt,
	}
}

func (m *Machine) consider(state Active, candidate analyzer.Reading) {
	if state.Best != nil && !candidate.CloserToIdeal(state.Best) {
		return
	}

	state.Best = &candidate
	m.state = state

	lambda := candidate.Lambda()
	deviation := candidate.Deviation()
	m.log.Info().
		Str("correlation_id", state.CorrelationID.String()).
		Str("lambda", lambda.Text('f')).
		Str("deviation", deviation.Text('f')).
		Msg("Session has new optimal lambda")
}

func (m *Machine) complete(state Active) Event {
	m.state = Idle{}

	if state.Best == nil {
		m.log.Warn().
			Str("correlation_id", state.CorrelationID.String()).
			Msg("Session closed without a reading, discarding")
		return nil
	}

	event := Completed{
		CorrelationID: state.CorrelationID,
		CompletedAt:   m.now(),
		Best:          *state.Best,
	}

	lambda := event.Best.Lambda()
	m.log.Info().
		Str("correlation_id", event.CorrelationID.String()).
		Str("lambda", lambda.Text('f')).
		Msg("Measuring session completed")

	return event
}
