package publisher_test

import (
	"context"
	"sync"
	"sync/atomic"

	"codeberg.org/gec/sensord/internal/publisher"
	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	queue string
	msg   amqp.Publishing
}

// broker records what every channel of every connection did.
type broker struct {
	mu        sync.Mutex
	declared  []string
	published []published

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	// block, when set, holds every Publish until it is closed.
	block chan struct{}
	// started receives one value per Publish that entered the broker.
	started chan struct{}
	// nack makes confirmations negative.
	nack atomic.Bool
	// publishErr is returned from Publish when set.
	publishErr error
	// declare, when set, runs before a queue is declared; its error is returned.
	declare func(conn *fakeConnection) error
	// closeGate, when set, holds every channel Close until it is closed;
	// closing receives one value per Close that is held.
	closeGate chan struct{}
	closing   chan struct{}
}

func newBroker() *broker {
	return &broker{started: make(chan struct{}, 64)}
}

func (b *broker) Published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *broker) Declared() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.declared...)
}

type fakeDialer struct {
	broker *broker
	err    error

	mu    sync.Mutex
	dials int
	conns []*fakeConnection
	// gate, when set, holds Dial until it is closed.
	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context) (publisher.Connection, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.err != nil {
		return nil, d.err
	}

	conn := &fakeConnection{broker: d.broker}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeConnection struct {
	broker *broker
	closed atomic.Bool

	mu       sync.Mutex
	channels []*fakeChannel
}

func (c *fakeConnection) Channel() (publisher.Channel, error) {
	if c.closed.Load() {
		return nil, amqp.ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := &fakeChannel{conn: c}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) Channels() []*fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeChannel(nil), c.channels...)
}

func (c *fakeConnection) IsClosed() bool { return c.closed.Load() }

func (c *fakeConnection) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeChannel struct {
	conn   *fakeConnection
	closed atomic.Bool
	uses   atomic.Int32
}

func (ch *fakeChannel) DeclareQueue(name string) error {
	if ch.IsClosed() {
		return amqp.ErrClosed
	}

	b := ch.conn.broker
	if b.declare != nil {
		if err := b.declare(ch.conn); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.declared = append(b.declared, name)
	b.mu.Unlock()
	return nil
}

func (ch *fakeChannel) Publish(ctx context.Context, queue string, msg amqp.Publishing) (publisher.Confirmation, error) {
	if ch.IsClosed() {
		return nil, amqp.ErrClosed
	}

	b := ch.conn.broker
	ch.uses.Add(1)

	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.maxInFlight.Load()
		if n <= peak || b.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	b.started <- struct{}{}

	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if b.publishErr != nil {
		return nil, b.publishErr
	}

	b.mu.Lock()
	b.published = append(b.published, published{queue: queue, msg: msg})
	b.mu.Unlock()

	return confirmation(!b.nack.Load()), nil
}

func (ch *fakeChannel) IsClosed() bool {
	return ch.closed.Load() || ch.conn.IsClosed()
}

func (ch *fakeChannel) Close() error {
	if b := ch.conn.broker; b.closeGate != nil {
		b.closing <- struct{}{}
		<-b.closeGate
	}
	ch.closed.Store(true)
	return nil
}

type confirmation bool

func (c confirmation) WaitContext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return bool(c), nil
}
