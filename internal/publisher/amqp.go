package publisher

import (
	"context"
	"fmt"
	"net"
	"time"

	"codeberg.org/gec/sensord/internal/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DialConfig holds the broker connection parameters.
type DialConfig struct {
	Host        string
	Port        int
	VHost       string
	Username    string
	Password    string
	ClientName  string
	DialTimeout time.Duration
	Heartbeat   time.Duration
}

// Address renders the broker location without credentials, for logs.
func (c DialConfig) Address() string {
	return fmt.Sprintf("%s:%d%s", c.Host, c.Port, c.VHost)
}

// AMQPDialer dials RabbitMQ with amqp091-go.
type AMQPDialer struct {
	cfg DialConfig
}

func NewAMQPDialer(cfg DialConfig) *AMQPDialer {
	return &AMQPDialer{cfg: cfg}
}

func (d *AMQPDialer) Dial(ctx context.Context) (Connection, error) {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     d.cfg.Host,
		Port:     d.cfg.Port,
		Username: d.cfg.Username,
		Password: d.cfg.Password,
		Vhost:    d.cfg.VHost,
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(d.cfg.ClientName)

	conn, err := amqp.DialConfig(uri.String(), amqp.Config{
		Vhost:      d.cfg.VHost,
		Heartbeat:  d.cfg.Heartbeat,
		Properties: props,
		Locale:     "en_US",
		Dial:       d.dialContext(ctx),
	})
	if err != nil {
		return nil, err
	}

	return &amqpConnection{conn: conn}, nil
}

// dialContext bounds the TCP connect and the AMQP handshake by both ctx and
// the dial timeout. amqp091 clears the deadline once the handshake is done.
func (d *AMQPDialer) dialContext(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		deadline := time.Now().Add(d.cfg.DialTimeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}

		return conn, nil
	}
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) DeclareQueue(name string) error {
	_, err := c.ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

func (c *amqpChannel) Publish(ctx context.Context, queue string, msg amqp.Publishing) (Confirmation, error) {
	confirmation, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return nil, err
	}
	if confirmation == nil {
		return nil, nil
	}
	return confirmation, nil
}

func (c *amqpChannel) IsClosed() bool {
	return c.ch.IsClosed()
}

func (c *amqpChannel) Close() error {
	return c.ch.Close()
}

// retryDialer retries a failing Dialer with linear backoff.
type retryDialer struct {
	next     Dialer
	attempts int
	delay    time.Duration
	log      logger.Logger
}

// WithRetry wraps next so that each Dial makes up to attempts tries,
// waiting delay, 2*delay, ... between them. Cancellation stops the wait.
func WithRetry(next Dialer, attempts int, delay time.Duration, log logger.Logger) Dialer {
	if attempts < 1 {
		attempts = 1
	}
	return &retryDialer{next: next, attempts: attempts, delay: delay, log: log}
}

func (d *retryDialer) Dial(ctx context.Context) (Connection, error) {
	var lastErr error

	for attempt := 1; attempt <= d.attempts; attempt++ {
		conn, err := d.next.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if attempt == d.attempts || ctx.Err() != nil {
			break
		}

		wait := d.delay * time.Duration(attempt)
		d.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Broker dial failed")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
