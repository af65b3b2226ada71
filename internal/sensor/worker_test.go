package sensor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/gec/sensord/internal/analyzer"
	apperrors "codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
	"codeberg.org/gec/sensord/internal/publisher"
	"codeberg.org/gec/sensord/internal/sensor"
	"codeberg.org/gec/sensord/internal/session"
	"codeberg.org/gec/sensord/internal/telemetry"
	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	firstID  = uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")
	secondID = uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8058")
)

func frame(t *testing.T, co, o2 string) []byte {
	t.Helper()
	r, err := analyzer.ParseReading(co, "10.00", o2, 100, 0)
	require.NoError(t, err)
	f, err := analyzer.Encode(r)
	require.NoError(t, err)
	return f[:]
}

func newMachine(t *testing.T, ids ...uuid.UUID) *session.Machine {
	t.Helper()
	threshold, _, err := apd.NewFromString("4.0")
	require.NoError(t, err)
	return session.NewMachine(threshold, session.WithIDGenerator(session.NewFixedGenerator(ids...)))
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []session.Event
	inits     int
	failures  []error
	initErr   error
	deadlines []bool
}

func (p *fakePublisher) Initialize(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits++
	return p.initErr
}

func (p *fakePublisher) Publish(ctx context.Context, e session.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, hasDeadline := ctx.Deadline()
	p.deadlines = append(p.deadlines, hasDeadline)

	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		if err != nil {
			return err
		}
	}
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) Events() []session.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]session.Event(nil), p.events...)
}

type fakeKeepAlive struct {
	mu        sync.Mutex
	pings     int
	schedules int
	stopped   bool
}

func (k *fakeKeepAlive) Ping() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pings++
	return nil
}

func (k *fakeKeepAlive) Schedule() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.schedules++
}

func (k *fakeKeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopped = true
}

type fakeTelemetry struct {
	readings []telemetry.ReadingSample
	sessions []telemetry.SessionSample
}

func (f *fakeTelemetry) RecordReading(_ context.Context, s *telemetry.ReadingSample) error {
	f.readings = append(f.readings, *s)
	return nil
}

func (f *fakeTelemetry) RecordSession(_ context.Context, s *telemetry.SessionSample) error {
	f.sessions = append(f.sessions, *s)
	return nil
}

func (f *fakeTelemetry) Close() error { return nil }

// scriptedPort hands out chunks, then idles like a serial read timeout.
type scriptedPort struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.chunks) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}

	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *scriptedPort) Close() error                { return nil }

func TestHandleChunk_FullSession(t *testing.T) {
	pub := &fakePublisher{}
	tel := &fakeTelemetry{}
	w := sensor.New(&scriptedPort{}, newMachine(t, firstID), pub,
		sensor.WithTelemetry(tel), sensor.WithLogger(logger.Nop()))

	ctx := context.Background()
	var stream []byte
	stream = append(stream, frame(t, "0.000", "20.90")...)
	stream = append(stream, frame(t, "5.000", "4.00")...)
	stream = append(stream, frame(t, "5.000", "3.18")...)
	stream = append(stream, frame(t, "5.000", "3.82")...)
	stream = append(stream, frame(t, "1.000", "15.00")...)

	// Chunk boundaries must not matter.
	for i := 0; i < len(stream); i += 7 {
		end := min(i+7, len(stream))
		w.HandleChunk(ctx, stream[i:end])
	}

	events := pub.Events()
	require.Len(t, events, 2)

	startedEvt, ok := events[0].(session.Started)
	require.True(t, ok)
	assert.Equal(t, firstID, startedEvt.CorrelationID)

	completedEvt, ok := events[1].(session.Completed)
	require.True(t, ok)
	assert.Equal(t, firstID, completedEvt.CorrelationID)
	assert.Equal(t, "3.18", completedEvt.Best.O2.Text('f'))

	stats := w.Stats()
	assert.Equal(t, uint64(5), stats.Frames)
	assert.Equal(t, uint64(5), stats.Decoded)
	assert.Equal(t, uint64(1), stats.Started)
	assert.Equal(t, uint64(1), stats.Completed)

	require.Len(t, tel.readings, 5)
	assert.Equal(t, uuid.Nil, tel.readings[0].CorrelationID)
	assert.Equal(t, firstID, tel.readings[2].CorrelationID)
	assert.Equal(t, firstID, tel.readings[4].CorrelationID)

	require.Len(t, tel.sessions, 2)
	assert.Equal(t, telemetry.SessionStarted, tel.sessions[0].Event)
	assert.Equal(t, telemetry.SessionCompleted, tel.sessions[1].Event)
	assert.True(t, tel.sessions[1].Published)
	require.NotNil(t, tel.sessions[1].Best)
}

func TestHandleChunk_RejectsMalformedFrames(t *testing.T) {
	pub := &fakePublisher{}
	w := sensor.New(&scriptedPort{}, newMachine(t, firstID), pub)

	bad := frame(t, "5.000", "3.18")
	copy(bad[5:12], " 5,000 ")

	var stream []byte
	stream = append(stream, 0xFF, 0x00, 0x10)
	stream = append(stream, bad...)
	stream = append(stream, frame(t, "5.000", "3.18")...)
	w.HandleChunk(context.Background(), stream)

	stats := w.Stats()
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(1), stats.Decoded)
	assert.Len(t, pub.Events(), 1)
}

func TestHandleChunk_ReconnectsOnceOnConnectionError(t *testing.T) {
	pub := &fakePublisher{
		failures: []error{apperrors.New().New(publisher.ErrConnectionClosed)},
	}
	w := sensor.New(&scriptedPort{}, newMachine(t, firstID), pub)

	w.HandleChunk(context.Background(), frame(t, "5.000", "3.18"))

	assert.Equal(t, 1, pub.inits)
	require.Len(t, pub.Events(), 1)
	assert.Equal(t, uint64(0), w.Stats().PublishFailures)
	assert.Equal(t, []bool{true, true}, pub.deadlines)
}

func TestHandleChunk_DropsEventAfterFailedRetry(t *testing.T) {
	pub := &fakePublisher{
		failures: []error{
			apperrors.New().New(publisher.ErrChannelClosed),
			apperrors.New().New(publisher.ErrChannelClosed),
		},
	}
	tel := &fakeTelemetry{}
	w := sensor.New(&scriptedPort{}, newMachine(t, firstID, secondID), pub, sensor.WithTelemetry(tel))
	ctx := context.Background()

	w.HandleChunk(ctx, frame(t, "5.000", "3.18"))
	w.HandleChunk(ctx, frame(t, "0.500", "20.00"))

	assert.Equal(t, 1, pub.inits)
	assert.Equal(t, uint64(1), w.Stats().PublishFailures)

	events := pub.Events()
	require.Len(t, events, 1)
	_, ok := events[0].(session.Completed)
	assert.True(t, ok, "pipeline keeps going after a dropped event")

	require.Len(t, tel.sessions, 2)
	assert.False(t, tel.sessions[0].Published)
	assert.True(t, tel.sessions[1].Published)
}

func TestHandleChunk_NoRetryOnOtherErrors(t *testing.T) {
	pub := &fakePublisher{
		failures: []error{apperrors.New().New(publisher.ErrNacked)},
	}
	w := sensor.New(&scriptedPort{}, newMachine(t, firstID), pub)

	w.HandleChunk(context.Background(), frame(t, "5.000", "3.18"))

	assert.Equal(t, 0, pub.inits)
	assert.Empty(t, pub.Events())
	assert.Equal(t, uint64(1), w.Stats().PublishFailures)
}

func TestHandleChunk_ReinitializeFails(t *testing.T) {
	pub := &fakePublisher{
		failures: []error{apperrors.New().New(publisher.ErrConnectionClosed)},
		initErr:  apperrors.New().New(publisher.ErrBrokerUnreachable),
	}
	w := sensor.New(&scriptedPort{}, newMachine(t, firstID), pub)

	w.HandleChunk(context.Background(), frame(t, "5.000", "3.18"))

	assert.Equal(t, 1, pub.inits)
	assert.Empty(t, pub.Events())
	assert.Equal(t, uint64(1), w.Stats().PublishFailures)
}

func TestRun_KeepAliveAndCleanStop(t *testing.T) {
	pub := &fakePublisher{}
	ka := &fakeKeepAlive{}
	port := &scriptedPort{chunks: [][]byte{
		frame(t, "0.000", "20.90"),
		{0xAA, 0xBB},
		frame(t, "5.000", "3.18"),
	}}
	w := sensor.New(port, newMachine(t, firstID), pub, sensor.WithKeepAlive(ka))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(pub.Events()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	ka.mu.Lock()
	defer ka.mu.Unlock()
	assert.Equal(t, 1, ka.pings)
	assert.Equal(t, 2, ka.schedules)
	assert.True(t, ka.stopped)
}

func TestRun_ReadError(t *testing.T) {
	port := &scriptedPort{err: errors.New("device unplugged")}
	w := sensor.New(port, newMachine(t), &fakePublisher{})

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, sensor.ErrReadFailed))
}
