package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned when an operation needs an open channel
	ErrNotConnected = errors.New("not connected to RabbitMQ")

	// ErrSetup wraps broker refusals while declaring the exchange, queue or binding
	ErrSetup = errors.New("failed to setup exchange and queue")
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	PrefetchCount      int
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URI builds the AMQP connection string
func (c *Config) URI() string {
	return c.uri(c.Password)
}

// RedactedURI is URI with the password masked, safe for logs
func (c *Config) RedactedURI() string {
	return c.uri("***")
}

func (c *Config) uri(password string) string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: password,
		Vhost:    vhost,
	}.String()
}

// publishRoutingKey targets the queue directly through the default exchange
// when no exchange is configured
func (c *Config) publishRoutingKey() string {
	if c.ExchangeName == "" {
		return c.QueueName
	}
	return c.RoutingKey
}

// DefaultConnectionTimeout bounds the TCP connect and AMQP handshake when
// no timeout is configured
const DefaultConnectionTimeout = 30 * time.Second

// dialContext opens a connection that ctx can abort during the TCP connect
// and the AMQP handshake. amqp.DialConfig has no context of its own, so the
// socket is closed when ctx ends before the handshake completes.
func dialContext(ctx context.Context, uri string, config amqp.Config, timeout time.Duration) (*amqp.Connection, error) {
	var (
		mu      sync.Mutex
		release func() bool
	)

	config.Dial = func(network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		// cleared by the library once the connection is open
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, err
		}

		mu.Lock()
		release = context.AfterFunc(ctx, func() { conn.Close() })
		mu.Unlock()
		return conn, nil
	}

	conn, err := amqp.DialConfig(uri, config)

	mu.Lock()
	detached := release == nil || release()
	mu.Unlock()

	if !detached {
		// ctx ended and the socket was closed under the handshake
		if conn != nil {
			conn.Close()
		}
		return nil, ctx.Err()
	}
	return conn, err
}

// Client represents a RabbitMQ client
type Client struct {
	config    *Config
	logger    *slog.Logger
	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	closeChan chan *amqp.Error
	closed    bool
}

// NewClient creates a new RabbitMQ client with an open channel and declared topology
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect(ctx context.Context) error {
	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	timeout := c.config.ConnectionTimeout
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("uri", c.config.RedactedURI()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = dialContext(ctx, c.config.URI(), amqp.Config{
			Heartbeat: c.config.Heartbeat,
			Locale:    "en_US",
		}, timeout)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			select {
			case <-time.After(c.config.RetryInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	// Buffered so the library never blocks delivering the close reason
	closeChan := make(chan *amqp.Error, 1)
	channel.NotifyClose(closeChan)

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.closeChan = closeChan
	c.mu.Unlock()

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.Int("prefetch_count", c.config.PrefetchCount),
	)

	return nil
}

// setup applies QoS and declares exchange, queue, and bindings
func (c *Client) setup(channel *amqp.Channel) error {
	if c.config.PrefetchCount > 0 {
		// prefetch size 0: no byte limit, global false: per consumer
		if err := channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("%w: failed to set QoS: %w", ErrSetup, err)
		}
	}

	if c.config.ExchangeName != "" {
		err := channel.ExchangeDeclare(
			c.config.ExchangeName,       // name
			c.config.ExchangeType,       // type
			c.config.ExchangeDurable,    // durable
			c.config.ExchangeAutoDelete, // auto-deleted
			false,                       // internal
			false,                       // no-wait
			nil,                         // arguments
		)
		if err != nil {
			return fmt.Errorf("%w: failed to declare exchange: %w", ErrSetup, err)
		}
	}

	_, err := channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("%w: failed to declare queue: %w", ErrSetup, err)
	}

	if c.config.ExchangeName != "" {
		err = channel.QueueBind(
			c.config.QueueName,    // queue name
			c.config.RoutingKey,   // routing key
			c.config.ExchangeName, // exchange
			false,                 // no-wait
			nil,                   // arguments
		)
		if err != nil {
			return fmt.Errorf("%w: failed to bind queue: %w", ErrSetup, err)
		}
	}

	return nil
}

func (c *Client) openChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.channel == nil {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// Consume starts consuming messages from the queue with manual acknowledgment
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	channel, err := c.openChannel()
	if err != nil {
		return nil, err
	}

	messages, err := channel.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// NotifyClose returns the channel that receives the reason the broker channel closed
func (c *Client) NotifyClose() <-chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeChan
}

// Publish publishes a message to RabbitMQ
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	channel, err := c.openChannel()
	if err != nil {
		return err
	}

	if err := c.publish(ctx, channel, body, contentType); err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.Int("body_size", len(body)),
		slog.String("content_type", contentType),
	)

	return nil
}

func (c *Client) publish(ctx context.Context, channel *amqp.Channel, body []byte, contentType string) error {
	return channel.PublishWithContext(
		ctx,
		c.config.ExchangeName,       // exchange
		c.config.publishRoutingKey(), // routing key
		false,                       // mandatory
		false,                       // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishWithRetry publishes a message to RabbitMQ with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	channel, err := c.openChannel()
	if err != nil {
		return err
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publish(ctx, channel, body, contentType)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.Int("body_size", len(body)),
				)
			}
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("failed to publish message: %w", ctx.Err())
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Close closes the RabbitMQ channel and connection. Safe to call more than once
// and from a goroutine other than the consumer's.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channel, conn := c.channel, c.conn
	c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")

	if channel != nil {
		if err := channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// IsTopologyRefused reports whether err is a broker refusal during setup,
// such as a durable queue redeclared with different arguments
func IsTopologyRefused(err error) bool {
	if !errors.Is(err, ErrSetup) {
		return false
	}
	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) {
		return false
	}
	if !amqpErr.Server {
		return false
	}
	switch amqpErr.Code {
	case amqp.PreconditionFailed, amqp.AccessRefused, amqp.NotAllowed, amqp.ResourceLocked:
		return true
	default:
		return false
	}
}
