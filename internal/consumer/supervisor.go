package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/internal/metrics"
)

// SupervisorState is the state of the reconnect loop
type SupervisorState int32

// Supervisor state constants
const (
	SupervisorIdle SupervisorState = iota
	SupervisorRunning
	SupervisorBackoff
	SupervisorStopped
)

func (s SupervisorState) String() string {
	switch s {
	case SupervisorRunning:
		return "running"
	case SupervisorBackoff:
		return "backoff"
	case SupervisorStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// SupervisorConfig holds consumer supervisor configuration
type SupervisorConfig struct {
	Logger      *slog.Logger
	Dial        Dialer
	Sink        Sink
	ConsumerTag string
	Policy      *ReconnectPolicy
	Metrics     *metrics.Metrics
}

// Supervisor runs one MessageConsumer at a time and reconnects with backoff
// when a session fails
type Supervisor struct {
	logger      *slog.Logger
	dial        Dialer
	sink        Sink
	consumerTag string
	policy      *ReconnectPolicy
	metrics     *metrics.Metrics

	mu       sync.Mutex
	current  *MessageConsumer
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once

	state      atomic.Int32
	reconnects atomic.Int64
}

// NewSupervisor creates a new consumer supervisor
func NewSupervisor(cfg *SupervisorConfig) *Supervisor {
	policy := cfg.Policy
	if policy == nil {
		policy = NewReconnectPolicy(DefaultReconnectStep, DefaultReconnectMax)
	}

	return &Supervisor{
		logger:      cfg.Logger,
		dial:        cfg.Dial,
		sink:        cfg.Sink,
		consumerTag: cfg.ConsumerTag,
		policy:      policy,
		metrics:     cfg.Metrics,
		stopCh:      make(chan struct{}),
	}
}

// Run consumes until Stop or ctx cancellation. It returns a non-nil error only
// for failures wrapped in domain.ErrUnrecoverable.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.state.Store(int32(SupervisorStopped))

	s.logger.Info("Consumer supervisor started",
		slog.String("consumer_tag", s.consumerTag),
	)

	for {
		consumer, ok := s.newConsumer()
		if !ok {
			s.logger.Info("Consumer supervisor stopped")
			return nil
		}

		s.state.Store(int32(SupervisorRunning))
		err := consumer.Run(ctx)

		if s.isStopped() || ctx.Err() != nil {
			s.logger.Info("Consumer supervisor stopped")
			return nil
		}

		if errors.Is(err, domain.ErrUnrecoverable) {
			s.logger.Error("Broker refused consumer setup",
				slog.Any("error", err),
			)
			return err
		}

		// a session that ends without error and without Stop still needs a reconnect
		delay := s.policy.Next(consumer.WasConsuming())
		s.reconnects.Add(1)
		s.metrics.BrokerReconnect()

		s.logger.Warn("Broker session ended, reconnecting",
			slog.Any("error", err),
			slog.Bool("was_consuming", consumer.WasConsuming()),
			slog.Duration("retry_after", delay),
			slog.Int64("reconnects", s.reconnects.Load()),
		)

		if !s.wait(ctx, delay) {
			s.logger.Info("Consumer supervisor stopped during backoff")
			return nil
		}
	}
}

// newConsumer swaps in a fresh consumer unless Stop has been called
func (s *Supervisor) newConsumer() (*MessageConsumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, false
	}

	s.current = NewMessageConsumer(&Config{
		Logger:      s.logger,
		Dial:        s.dial,
		Sink:        s.sink,
		ConsumerTag: s.consumerTag,
		Metrics:     s.metrics,
	})
	return s.current, true
}

// wait sleeps for delay and reports false if woken by Stop or ctx
func (s *Supervisor) wait(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		select {
		case <-s.stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	s.state.Store(int32(SupervisorBackoff))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stop ends the loop and closes the in-flight consumer session
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.stopCh)
		current := s.current
		s.mu.Unlock()

		if current != nil {
			current.Stop()
		}
	})
}

// State returns the supervisor state
func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// ConnectionState returns the state of the current broker session
func (s *Supervisor) ConnectionState() ConnectionState {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current == nil {
		return StateDisconnected
	}
	return current.State()
}

// Reconnects returns how many times a session has been restarted
func (s *Supervisor) Reconnects() int64 {
	return s.reconnects.Load()
}

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
