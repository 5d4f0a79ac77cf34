package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URI(t *testing.T) {
	cfg := &Config{Host: "broker.internal", Port: 5672, User: "worker", Password: "s3cret"}

	assert.Contains(t, cfg.URI(), "s3cret")
	assert.Contains(t, cfg.URI(), "broker.internal")

	redacted := cfg.RedactedURI()
	assert.NotContains(t, redacted, "s3cret")
	assert.Contains(t, redacted, "worker")
	assert.Contains(t, redacted, "broker.internal")
}

func TestConfig_PublishRoutingKey(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name:     "default exchange targets queue",
			config:   Config{QueueName: "pipelines", RoutingKey: "ignored"},
			expected: "pipelines",
		},
		{
			name:     "named exchange uses routing key",
			config:   Config{ExchangeName: "livestream", QueueName: "pipelines", RoutingKey: "pipeline.start"},
			expected: "pipeline.start",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.publishRoutingKey())
		})
	}
}

func TestIsTopologyRefused(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "precondition failed during setup",
			err:      fmt.Errorf("%w: %w", ErrSetup, &amqp.Error{Code: amqp.PreconditionFailed, Server: true}),
			expected: true,
		},
		{
			name:     "access refused during setup",
			err:      fmt.Errorf("%w: %w", ErrSetup, &amqp.Error{Code: amqp.AccessRefused, Server: true}),
			expected: true,
		},
		{
			name:     "client side error",
			err:      fmt.Errorf("%w: %w", ErrSetup, &amqp.Error{Code: amqp.PreconditionFailed}),
			expected: false,
		},
		{
			name:     "connection error outside setup",
			err:      &amqp.Error{Code: amqp.PreconditionFailed, Server: true},
			expected: false,
		},
		{
			name:     "plain setup error",
			err:      ErrSetup,
			expected: false,
		},
		{
			name:     "nil",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTopologyRefused(tt.err))
		})
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := &Config{
		Host:              "127.0.0.1",
		Port:              1,
		User:              "guest",
		Password:          "guest",
		QueueName:         "pipelines",
		RetryAttempts:     1,
		RetryInterval:     10 * time.Millisecond,
		ConnectionTimeout: 200 * time.Millisecond,
	}

	client, err := NewClient(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Nil(t, client)
	assert.False(t, errors.Is(err, ErrSetup))
}

// silentBroker accepts TCP connections and never answers the AMQP handshake
func silentBroker(t *testing.T) *net.TCPAddr {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
		for _, conn := range conns {
			conn.Close()
		}
	})
	return listener.Addr().(*net.TCPAddr)
}

func TestNewClient_CancelDuringHandshake(t *testing.T) {
	addr := silentBroker(t)
	cfg := &Config{
		Host:              addr.IP.String(),
		Port:              addr.Port,
		User:              "guest",
		Password:          "guest",
		QueueName:         "pipelines",
		RetryAttempts:     3,
		RetryInterval:     time.Second,
		ConnectionTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	client, err := NewClient(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, client)
	assert.Less(t, elapsed, time.Second)
}

func TestNewClient_HandshakeTimeout(t *testing.T) {
	addr := silentBroker(t)
	cfg := &Config{
		Host:              addr.IP.String(),
		Port:              addr.Port,
		User:              "guest",
		Password:          "guest",
		QueueName:         "pipelines",
		RetryAttempts:     1,
		ConnectionTimeout: 200 * time.Millisecond,
	}

	start := time.Now()
	_, err := NewClient(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.Error(t, err)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}
