package publisher

import (
	"context"
	"sync"
	"time"

	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
	"codeberg.org/gec/sensord/internal/session"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"
)

// Config holds the publisher settings.
type Config struct {
	// PoolSize bounds both concurrent publishes and pooled channels.
	PoolSize int
	Routes   Routes
	// AppID is stamped on every message.
	AppID string
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.PoolSize <= 0 {
		return errFactory.WithData(errors.ErrInvalidPoolSize, c.PoolSize)
	}
	if len(c.Routes) == 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "no routes configured")
	}
	for msgType, queue := range c.Routes {
		if queue == "" {
			return errFactory.WithData(errors.ErrMissingQueueName, msgType)
		}
	}
	return nil
}

// pooledChannel remembers which connection generation opened it.
type pooledChannel struct {
	ch         Channel
	generation uint64
}

// Publisher delivers session events to durable queues over one shared
// connection. Publish is safe for concurrent use; at most PoolSize publishes
// are in flight and each holds its own channel exclusively.
type Publisher struct {
	dialer Dialer
	cfg    Config
	log    logger.Logger
	now    func() time.Time

	initLock *semaphore.Weighted
	gate     *semaphore.Weighted

	mu         sync.Mutex
	conn       Connection
	generation uint64
	idle       []*pooledChannel
	closed     bool

	stats *stats
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger attaches a component logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Publisher) {
		p.log = log
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// New returns an uninitialized Publisher; call Initialize before Publish.
func New(dialer Dialer, cfg Config, opts ...Option) (*Publisher, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	p := &Publisher{
		dialer:   dialer,
		cfg:      cfg,
		log:      logger.Nop(),
		now:      time.Now,
		initLock: semaphore.NewWeighted(1),
		gate:     semaphore.NewWeighted(int64(cfg.PoolSize)),
		stats:    newStats(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Initialize opens the broker connection and declares the queues. It is a
// no-op while the current connection is open. Concurrent callers wait for the
// one in progress instead of dialing again. Channels pooled from a previous
// connection are discarded.
func (p *Publisher) Initialize(ctx context.Context) error {
	errFactory := errors.New()

	if err := p.initLock.Acquire(ctx, 1); err != nil {
		return errFactory.Wrap(ErrCanceled, err)
	}
	defer p.initLock.Release(1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errFactory.New(ErrPublisherClosed)
	}
	if p.conn != nil && !p.conn.IsClosed() {
		p.mu.Unlock()
		return nil
	}

	stale := p.conn
	idle := p.idle
	p.conn = nil
	p.idle = nil
	p.generation++
	p.mu.Unlock()

	for _, pc := range idle {
		closeQuietly(pc.ch)
	}
	if stale != nil {
		closeQuietly(stale)
		p.log.Info().Msg("Discarded stale broker connection")
	}

	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errFactory.Wrap(ErrCanceled, err)
		}
		return errFactory.Wrap(ErrBrokerUnreachable, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if err := p.declareQueues(ctx); err != nil {
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
		closeQuietly(conn)
		return err
	}

	p.log.Info().
		Strs("queues", p.cfg.Routes.Queues()).
		Int("pool_size", p.cfg.PoolSize).
		Msg("Publisher initialized")

	return nil
}

func (p *Publisher) declareQueues(ctx context.Context) error {
	errFactory := errors.New()

	if err := p.gate.Acquire(ctx, 1); err != nil {
		return errFactory.Wrap(ErrCanceled, err)
	}
	defer p.gate.Release(1)

	pc, err := p.acquireChannel(ctx)
	if err != nil {
		return err
	}

	for _, queue := range p.cfg.Routes.Queues() {
		if err := pc.ch.DeclareQueue(queue); err != nil {
			closeQuietly(pc.ch)
			p.log.Warn().Err(err).Str("queue", queue).Msg("Queue declaration failed")
			return classify(ctx, err, p.connectionClosed(), ErrDeclareFailed)
		}
	}

	p.releaseChannel(pc)
	return nil
}

// Publish serializes event and sends it persistently to its queue, waiting
// for the broker's confirmation. It blocks while PoolSize publishes are in
// flight. Errors are never retried here: a connection error (see
// IsConnectionError) leaves the decision to Initialize again to the caller.
func (p *Publisher) Publish(ctx context.Context, event session.Event) error {
	errFactory := errors.New()

	msgType, body, err := Encode(event)
	if err != nil {
		return err
	}

	queue, ok := p.cfg.Routes[msgType]
	if !ok {
		return errFactory.WithData(ErrUnroutable, msgType)
	}

	msg := amqp.Publishing{
		ContentType:   contentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		Type:          string(msgType),
		MessageId:     uuid.NewString(),
		CorrelationId: event.SessionID().String(),
		Timestamp:     p.now().UTC(),
		AppId:         p.cfg.AppID,
		Body:          body,
	}

	if err := p.gate.Acquire(ctx, 1); err != nil {
		p.stats.fail(msgType)
		return errFactory.Wrap(ErrCanceled, err)
	}
	defer p.gate.Release(1)

	pc, err := p.acquireChannel(ctx)
	if err != nil {
		p.stats.fail(msgType)
		return err
	}

	if err := p.send(ctx, pc, queue, msg); err != nil {
		if errors.HasCode(err, ErrNacked) {
			p.releaseChannel(pc)
		} else {
			closeQuietly(pc.ch)
		}
		p.stats.fail(msgType)
		return err
	}

	p.releaseChannel(pc)
	p.stats.publish(msgType)

	p.log.Debug().
		Str("message_type", string(msgType)).
		Str("queue", queue).
		Str("correlation_id", msg.CorrelationId).
		Msg("Published command")

	return nil
}

func (p *Publisher) send(ctx context.Context, pc *pooledChannel, queue string, msg amqp.Publishing) error {
	errFactory := errors.New()

	confirmation, err := pc.ch.Publish(ctx, queue, msg)
	if err != nil {
		return classify(ctx, err, p.connectionClosed(), ErrPublishFailed)
	}
	if confirmation == nil {
		return nil
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return classify(ctx, err, p.connectionClosed(), ErrPublishFailed)
	}
	if !acked {
		if pc.ch.IsClosed() {
			return errFactory.Wrap(ErrChannelClosed, amqp.ErrClosed)
		}
		return errFactory.WithData(ErrNacked, queue)
	}

	return nil
}

// acquireChannel takes an open channel of the current connection from the
// pool, or opens a new one. The caller must hold a gate slot.
func (p *Publisher) acquireChannel(ctx context.Context) (*pooledChannel, error) {
	errFactory := errors.New()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errFactory.New(ErrPublisherClosed)
	}
	conn, generation := p.conn, p.generation
	var reused *pooledChannel
	var stale []*pooledChannel
	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if pc.generation == generation && !pc.ch.IsClosed() {
			reused = pc
			break
		}
		stale = append(stale, pc)
	}
	p.mu.Unlock()

	for _, pc := range stale {
		closeQuietly(pc.ch)
	}
	if reused != nil {
		return reused, nil
	}

	if conn == nil {
		return nil, errFactory.New(ErrNotInitialized)
	}
	if conn.IsClosed() {
		return nil, errFactory.Wrap(ErrConnectionClosed, amqp.ErrClosed)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, classify(ctx, err, conn.IsClosed(), ErrChannelClosed)
	}

	return &pooledChannel{ch: ch, generation: generation}, nil
}

// releaseChannel puts pc back into the pool unless it is broken, belongs to a
// replaced connection, or the pool is full.
func (p *Publisher) releaseChannel(pc *pooledChannel) {
	p.mu.Lock()
	keep := !p.closed && pc.generation == p.generation && !pc.ch.IsClosed() && len(p.idle) < p.cfg.PoolSize
	if keep {
		p.idle = append(p.idle, pc)
	}
	p.mu.Unlock()

	if !keep {
		closeQuietly(pc.ch)
	}
}

func (p *Publisher) connectionClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn == nil || p.conn.IsClosed()
}

// Idle returns the number of pooled channels ready for reuse.
func (p *Publisher) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.idle)
}

// Stats returns publish counters per message type.
func (p *Publisher) Stats() Stats {
	return p.stats.snapshot()
}

// Close drops pooled channels and closes the connection. In-flight
// publishes finish on their own channels, which are closed on release.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	idle := p.idle
	p.conn = nil
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		closeQuietly(pc.ch)
	}

	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			return errors.New().Wrap(errors.ErrShutdownFailed, err)
		}
	}

	p.log.Info().Msg("Publisher closed")
	return nil
}

type closer interface {
	Close() error
}

func closeQuietly(c closer) {
	_ = c.Close()
}
