package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/internal/metrics"
	"github.com/cuongbtq/livestream-ai-worker/shared/rabbitmq"
)

// Session is one open broker connection with a declared queue.
// *rabbitmq.Client satisfies it.
type Session interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	NotifyClose() <-chan *amqp.Error
	Close() error
}

// Dialer opens a new Session
type Dialer func(ctx context.Context) (Session, error)

// Sink receives every decoded job
type Sink interface {
	Put(job *domain.Job)
}

// ConnectionState is the state of the broker session
type ConnectionState int32

// Connection state constants
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConsuming
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	default:
		return "disconnected"
	}
}

// Config holds message consumer configuration
type Config struct {
	Logger      *slog.Logger
	Dial        Dialer
	Sink        Sink
	ConsumerTag string
	Metrics     *metrics.Metrics
}

// MessageConsumer owns exactly one broker session. It is used once: after
// Run returns, create a new consumer to reconnect.
type MessageConsumer struct {
	logger      *slog.Logger
	dial        Dialer
	sink        Sink
	consumerTag string
	metrics     *metrics.Metrics

	mu       sync.Mutex
	session  Session
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once

	state     atomic.Int32
	consuming atomic.Bool
}

// NewMessageConsumer creates a new message consumer
func NewMessageConsumer(cfg *Config) *MessageConsumer {
	return &MessageConsumer{
		logger:      cfg.Logger,
		dial:        cfg.Dial,
		sink:        cfg.Sink,
		consumerTag: cfg.ConsumerTag,
		metrics:     cfg.Metrics,
		stopCh:      make(chan struct{}),
	}
}

// Run opens the session and consumes until Stop, ctx cancellation or a
// connection-level error. A nil return means the consumer was asked to stop.
func (c *MessageConsumer) Run(ctx context.Context) error {
	defer c.state.Store(int32(StateDisconnected))
	c.state.Store(int32(StateConnecting))

	// Stop also interrupts a dial that is still retrying
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	session, err := c.dial(ctx)
	if err != nil {
		if c.isStopped() || ctx.Err() != nil {
			return nil
		}
		return classify(fmt.Errorf("failed to connect to broker: %w", err))
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		session.Close()
		return nil
	}
	c.session = session
	c.mu.Unlock()
	defer c.closeSession()

	closed := session.NotifyClose()
	deliveries, err := session.Consume(c.consumerTag)
	if err != nil {
		if c.isStopped() {
			return nil
		}
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.consuming.Store(true)
	c.state.Store(int32(StateConsuming))
	c.logger.Info("Consuming pipeline requests",
		slog.String("consumer_tag", c.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Message consumer stopped - context canceled")
			return nil

		case <-c.stopCh:
			c.logger.Info("Message consumer stopped")
			return nil

		case amqpErr, ok := <-closed:
			if c.isStopped() {
				return nil
			}
			if !ok || amqpErr == nil {
				return domain.ErrSessionClosed
			}
			return fmt.Errorf("%w: %w", domain.ErrSessionClosed, amqpErr)

		case delivery, ok := <-deliveries:
			if !ok {
				if c.isStopped() {
					return nil
				}
				return fmt.Errorf("%w: delivery channel closed", domain.ErrSessionClosed)
			}
			if err := c.handle(delivery); err != nil {
				return err
			}
		}
	}
}

// handle decodes one delivery and acks it. Malformed payloads are acked and
// dropped so they never block the queue.
func (c *MessageConsumer) handle(delivery amqp.Delivery) error {
	job, err := domain.DecodeJob(delivery.Body)
	if err != nil {
		c.metrics.MessageMalformed()
		c.logger.Warn("Discarding malformed pipeline request",
			slog.Any("error", err),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.Int("body_size", len(delivery.Body)),
		)
		if ackErr := delivery.Ack(false); ackErr != nil {
			return fmt.Errorf("failed to ack malformed message: %w", ackErr)
		}
		return nil
	}

	c.sink.Put(job)
	c.metrics.JobReceived()

	c.logger.Info("Pipeline request received",
		slog.String("job_id", job.ID),
		slog.String("source_type", job.Input.Source.Type),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)

	if err := delivery.Ack(false); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Stop requests shutdown and closes the session so a blocked Run returns.
// Safe to call more than once and from any goroutine.
func (c *MessageConsumer) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		close(c.stopCh)
		c.mu.Unlock()

		c.closeSession()
	})
}

// WasConsuming reports whether the session reached the consuming state
func (c *MessageConsumer) WasConsuming() bool {
	return c.consuming.Load()
}

// State returns the current connection state
func (c *MessageConsumer) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *MessageConsumer) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *MessageConsumer) closeSession() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.Close(); err != nil {
		c.logger.Debug("Failed to close broker session",
			slog.Any("error", err),
		)
	}
}

// classify marks broker refusals during topology setup as unrecoverable
func classify(err error) error {
	if rabbitmq.IsTopologyRefused(err) && !errors.Is(err, domain.ErrUnrecoverable) {
		return fmt.Errorf("%w: %w", domain.ErrUnrecoverable, err)
	}
	return err
}
