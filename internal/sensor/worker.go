package sensor

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/gec/sensord/internal/analyzer"
	"codeberg.org/gec/sensord/internal/device"
	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
	"codeberg.org/gec/sensord/internal/publisher"
	"codeberg.org/gec/sensord/internal/session"
	"codeberg.org/gec/sensord/internal/telemetry"
	"github.com/google/uuid"
)

const (
	DefaultPublishTimeout = 5 * time.Second
	readBufferSize        = 256
)

// Stats counts what the worker has seen since it started.
type Stats struct {
	Frames          uint64
	Decoded         uint64
	Rejected        uint64
	Started         uint64
	Completed       uint64
	PublishFailures uint64
}

// Worker drives one analyzer: it reads the port, cuts frames, decodes
// readings, runs the session machine and publishes its events. Everything
// happens on the goroutine calling Run, so events are published in order.
type Worker struct {
	port      device.Port
	frames    *analyzer.Synchronizer
	machine   *session.Machine
	publisher Publisher
	telemetry telemetry.Collector
	keepAlive KeepAlive
	log       logger.Logger
	now       func() time.Time

	publishTimeout time.Duration

	frameCount      atomic.Uint64
	decoded         atomic.Uint64
	rejected        atomic.Uint64
	started         atomic.Uint64
	completed       atomic.Uint64
	publishFailures atomic.Uint64
}

type Option func(*Worker)

func WithTelemetry(c telemetry.Collector) Option {
	return func(w *Worker) {
		w.telemetry = c
	}
}

// WithKeepAlive pings the analyzer at start and after each decoded frame.
func WithKeepAlive(k KeepAlive) Option {
	return func(w *Worker) {
		w.keepAlive = k
	}
}

func WithLogger(log logger.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// WithPublishTimeout bounds each publish, including one reconnect attempt.
func WithPublishTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.publishTimeout = d
		}
	}
}

func New(port device.Port, machine *session.Machine, pub Publisher, opts ...Option) *Worker {
	w := &Worker{
		port:           port,
		frames:         analyzer.NewSynchronizer(),
		machine:        machine,
		publisher:      pub,
		telemetry:      telemetry.Nop(),
		log:            logger.Nop(),
		now:            time.Now,
		publishTimeout: DefaultPublishTimeout,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run reads until ctx is done or the port fails. A canceled ctx is a clean
// stop and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	errFactory := errors.New()

	if w.keepAlive != nil {
		defer w.keepAlive.Stop()
		if err := w.keepAlive.Ping(); err != nil {
			w.log.Warn().Err(err).Msg("Initial keep-alive ping failed")
		}
	}

	w.log.Info().Msg("Sensor worker started")

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("Sensor worker stopped")
			return nil
		}

		n, err := w.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errFactory.Wrap(ErrReadFailed, err)
		}
		if n == 0 {
			continue
		}

		w.HandleChunk(ctx, buf[:n])
	}
}

// HandleChunk processes every frame completed by chunk.
func (w *Worker) HandleChunk(ctx context.Context, chunk []byte) {
	for _, frame := range w.frames.Feed(chunk) {
		w.handleFrame(ctx, frame)
	}
}

func (w *Worker) handleFrame(ctx context.Context, frame analyzer.RawFrame) {
	w.frameCount.Add(1)

	w.log.Debug().
		Str("frame", analyzer.FormatDashed(frame[:])).
		Msg("Frame received")

	reading, err := analyzer.Decode(frame[:])
	if err != nil {
		w.rejected.Add(1)
		w.log.Debug().Err(err).Msg("Wrong format, frame skipped")
		return
	}
	w.decoded.Add(1)

	event := w.machine.Evaluate(reading)

	w.recordReading(ctx, reading, event)

	if event != nil {
		published := w.publish(ctx, event)
		w.recordSession(ctx, event, published)
	}

	if w.keepAlive != nil {
		w.keepAlive.Schedule()
	}
}

// publish sends event, re-initializing the publisher once when the
// connection is gone. It reports whether the event reached the broker.
func (w *Worker) publish(ctx context.Context, event session.Event) bool {
	pctx, cancel := context.WithTimeout(ctx, w.publishTimeout)
	defer cancel()

	err := w.publisher.Publish(pctx, event)
	if err != nil && publisher.IsConnectionError(err) {
		w.log.Warn().
			Err(err).
			Str("correlation_id", event.SessionID().String()).
			Msg("Broker connection lost, reconnecting")

		if initErr := w.publisher.Initialize(pctx); initErr != nil {
			err = initErr
		} else {
			err = w.publisher.Publish(pctx, event)
		}
	}

	if err != nil {
		w.publishFailures.Add(1)
		w.log.Error().
			Err(errors.New().Wrap(ErrPublishDropped, err)).
			Str("correlation_id", event.SessionID().String()).
			Msg("Failed to publish session event")
		return false
	}

	switch e := event.(type) {
	case session.Started:
		w.started.Add(1)
		w.log.Info().
			Str("correlation_id", e.CorrelationID.String()).
			Msg("Published session start")
	case session.Completed:
		w.completed.Add(1)
		lambda := e.Best.Lambda()
		w.log.Info().
			Str("correlation_id", e.CorrelationID.String()).
			Str("lambda", lambda.Text('f')).
			Msg("Published session result")
	}

	return true
}

func (w *Worker) recordReading(ctx context.Context, r analyzer.Reading, event session.Event) {
	sample := &telemetry.ReadingSample{
		Timestamp:     w.now(),
		CorrelationID: w.sessionFor(event),
		Reading:       r,
	}
	if err := w.telemetry.RecordReading(ctx, sample); err != nil {
		w.log.Debug().Err(err).Msg("Failed to record reading")
	}
}

func (w *Worker) recordSession(ctx context.Context, event session.Event, published bool) {
	sample := &telemetry.SessionSample{
		Timestamp:     w.now(),
		CorrelationID: event.SessionID(),
		Published:     published,
	}

	switch e := event.(type) {
	case session.Started:
		sample.Event = telemetry.SessionStarted
	case session.Completed:
		sample.Event = telemetry.SessionCompleted
		best := e.Best
		sample.Best = &best
	}

	if err := w.telemetry.RecordSession(ctx, sample); err != nil {
		w.log.Debug().Err(err).Msg("Failed to record session")
	}
}

// sessionFor returns the session a reading belongs to, uuid.Nil when idle.
func (w *Worker) sessionFor(event session.Event) uuid.UUID {
	if event != nil {
		return event.SessionID()
	}
	if active, ok := w.machine.State().(session.Active); ok {
		return active.CorrelationID
	}
	return uuid.Nil
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Frames:          w.frameCount.Load(),
		Decoded:         w.decoded.Load(),
		Rejected:        w.rejected.Load(),
		Started:         w.started.Load(),
		Completed:       w.completed.Load(),
		PublishFailures: w.publishFailures.Load(),
	}
}
