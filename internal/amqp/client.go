package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/singleflight"

	"ledger/internal/core"
	"ledger/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures         = 5
	openTimeout         = 30 * time.Second
	maxBackoff          = 30 * time.Second
	publishTimeout      = 5 * time.Second
	heartbeat           = 10 * time.Second
	maxDeliveryAttempts = 5
	retryDelay          = 500 * time.Millisecond
)

// Client publishes and consumes ledger events on a durable direct exchange.
// A broken connection is re-established on the next publish, bounded by the
// caller's context and publishTimeout; repeated failures open a circuit
// breaker so publishes fail fast for openTimeout.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	// timeout bounds a dial or a publish; zero means publishTimeout.
	timeout time.Duration
	// retryDelay is the pause before requeueing a failed delivery, doubled
	// per attempt; zero requeues immediately.
	retryDelay time.Duration

	dials   singleflight.Group
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
	failureMu    sync.Mutex
}

// NewClient dials the broker and declares the exchange, queue and binding.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       log.FromSlog(nil, log.ComponentAMQP),
		retryDelay:   retryDelay,
	}

	if err := client.connect(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(l *log.Logger) {
	if l != nil {
		c.logger = l.WithComponent(log.ComponentAMQP)
	}
}

func (c *Client) operationTimeout() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return publishTimeout
}

// connect replaces the connection and channel. Concurrent callers share one
// dial, and c.mu is not held while it runs.
func (c *Client) connect(ctx context.Context) error {
	_, err, _ := c.dials.Do("connect", func() (any, error) {
		return nil, c.dial(ctx)
	})
	return err
}

func (c *Client) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.operationTimeout())
	defer cancel()
	deadline, _ := ctx.Deadline()
	timeout := time.Until(deadline)
	if timeout <= 0 {
		return fmt.Errorf("dial AMQP: %w", context.DeadlineExceeded)
	}

	// DefaultDial sets a deadline on the socket until the AMQP handshake is
	// done, so a broker that accepts but never answers cannot stall us.
	conn, err := amqp091.DialConfig(c.url, amqp091.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp091.DefaultDial(timeout),
	})
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	// Channel setup has no deadline of its own; closing the connection
	// unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	if !stop() {
		return fmt.Errorf("setup exchange and queue: %w", ctx.Err())
	}

	c.mu.Lock()
	oldChannel, oldConn := c.channel, c.conn
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	if oldChannel != nil {
		oldChannel.Close()
	}
	if oldConn != nil {
		oldConn.Close()
	}
	return nil
}

func setup(channel *amqp091.Channel, exchangeName, queueName string) error {
	err := channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key is the queue name.
	err = channel.QueueBind(
		queueName,
		queueName,
		exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// currentChannel returns an open channel, reconnecting if needed.
func (c *Client) currentChannel(ctx context.Context) (*amqp091.Channel, error) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel, nil
}

func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Publish implements ledger.EventPublisher.
func (c *Client) Publish(ctx context.Context, ev core.Event) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, skipping publish of %s", ev.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.operationTimeout())
	defer cancel()

	ch, err := c.currentChannel(ctx)
	if err != nil {
		c.recordFailure()
		return err
	}

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    ev.ID,
			Type:         string(ev.Type),
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.log().InfoContext(ctx, "Published ledger event",
		log.FieldEventID, ev.ID,
		log.FieldEventType, string(ev.Type),
		log.FieldAccountID, ev.AccountID,
		"exchange", c.exchangeName,
		"queue", c.queueName)

	return nil
}

// Handler processes one event. Returning an error requeues the message after
// a backoff; after maxDeliveryAttempts failures it is rejected instead.
type Handler func(ctx context.Context, ev *core.Event) error

// Consume delivers events to handler until ctx is done. Lost connections are
// re-established with exponential backoff.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	attempt := 0
	failures := make(map[string]int)
	for {
		err := c.consumeOnce(ctx, handler, failures, func() { attempt = 0 })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil || !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		attempt++
		c.log().WarnContext(ctx, "Consumer lost connection, reconnecting",
			log.FieldError, err,
			"attempt", attempt,
			"backoff", wait)
		c.dropConnection()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler Handler, failures map[string]int, connected func()) error {
	ch, err := c.currentChannel(ctx)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	connected()

	c.log().InfoContext(ctx, "Started consuming ledger events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.log().InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed: %w", amqp091.ErrClosed)
			}
			c.handleDelivery(ctx, delivery, handler, failures)
		}
	}
}

// handleDelivery runs handler on one message. failures counts failed
// attempts per event id; it is only touched by the consuming goroutine.
func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler Handler, failures map[string]int) {
	ev, err := DecodeEvent(delivery.Body)
	if err != nil {
		c.log().ErrorContext(ctx, "Failed to decode message", log.FieldError, err)
		delivery.Nack(false, false) // malformed, drop
		return
	}

	if err := handler(ctx, ev); err != nil {
		failures[ev.ID]++
		attempts := failures[ev.ID]
		if attempts >= maxDeliveryAttempts {
			delete(failures, ev.ID)
			c.log().WarnContext(ctx, "Rejecting message after repeated failures",
				log.FieldError, err,
				log.FieldEventID, ev.ID,
				log.FieldEventType, string(ev.Type),
				"attempts", attempts)
			// Dead-lettered when the queue has a dead-letter policy, dropped otherwise.
			delivery.Nack(false, false)
			return
		}

		c.log().ErrorContext(ctx, "Failed to handle message",
			log.FieldError, err,
			log.FieldEventID, ev.ID,
			log.FieldEventType, string(ev.Type),
			"attempts", attempts,
			"redelivered", delivery.Redelivered)
		c.waitBeforeRetry(ctx, attempts)
		delivery.Nack(false, true) // requeue
		return
	}

	delete(failures, ev.ID)
	delivery.Ack(false)
	c.log().DebugContext(ctx, "Processed ledger event",
		log.FieldEventID, ev.ID,
		log.FieldEventType, string(ev.Type))
}

func (c *Client) waitBeforeRetry(ctx context.Context, attempts int) {
	if c.retryDelay <= 0 {
		return
	}
	wait := c.retryDelay << (attempts - 1)
	if wait > maxBackoff {
		wait = maxBackoff
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failureMu.Lock()
	last := c.lastFailure
	c.failureMu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.failureMu.Lock()
	c.lastFailure = time.Now()
	c.failureMu.Unlock()

	failures := atomic.AddInt64(&c.failureCount, 1)
	if failures >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) log() *log.Logger {
	if c.logger == nil {
		return log.FromSlog(nil, log.ComponentAMQP)
	}
	return c.logger
}
