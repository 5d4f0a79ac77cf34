package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/livestream-ai-worker/internal/config"
	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/shared/logger"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeComponent struct {
	name     string
	log      *eventLog
	runErr   error
	stopCh   chan struct{}
	stopOnce sync.Once
	started  chan struct{}
}

func newFakeComponent(name string, log *eventLog) *fakeComponent {
	return &fakeComponent{
		name:    name,
		log:     log,
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Run returns runErr at once when set, otherwise blocks until Stop
func (f *fakeComponent) Run(ctx context.Context) error {
	close(f.started)
	if f.runErr != nil {
		return f.runErr
	}
	<-f.stopCh
	return nil
}

func (f *fakeComponent) Stop() {
	f.stopOnce.Do(func() {
		f.log.add(f.name + ".stop")
		close(f.stopCh)
	})
}

type fakeServer struct {
	log      *eventLog
	startErr error
	errs     chan error
}

func (s *fakeServer) Start() (<-chan error, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.log.add("server.start")
	s.errs = make(chan error, 1)
	return s.errs, nil
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.log.add("server.shutdown")
	return nil
}

func newTestRunner(t *testing.T, events *eventLog, consumer, dispatcher *fakeComponent, server HTTPServer) *Runner {
	t.Helper()
	return NewRunner(&RunnerConfig{
		Logger:     logger.Discard(),
		LockFile:   filepath.Join(t.TempDir(), "worker.lock"),
		Consumer:   consumer,
		Dispatcher: dispatcher,
		Server:     server,
		Closers: []func() error{
			func() error { events.add("closer"); return nil },
		},
	})
}

func TestRunner_ShutdownOrder(t *testing.T) {
	events := &eventLog{}
	consumer := newFakeComponent("consumer", events)
	dispatcher := newFakeComponent("dispatcher", events)
	server := &fakeServer{log: events}
	r := newTestRunner(t, events, consumer, dispatcher, server)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	<-consumer.started
	<-dispatcher.started
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	assert.Equal(t, []string{
		"server.start",
		"consumer.stop",
		"dispatcher.stop",
		"server.shutdown",
		"closer",
	}, events.list())
}

func TestRunner_UnrecoverableConsumerError(t *testing.T) {
	events := &eventLog{}
	consumer := newFakeComponent("consumer", events)
	consumer.runErr = errors.Join(domain.ErrUnrecoverable, errors.New("queue declared with different arguments"))
	dispatcher := newFakeComponent("dispatcher", events)
	r := newTestRunner(t, events, consumer, dispatcher, nil)

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnrecoverable)

	// the dispatcher is still stopped after the consumer
	assert.Equal(t, []string{"consumer.stop", "dispatcher.stop", "closer"}, events.list())
}

func TestRunner_ServerFailure(t *testing.T) {
	events := &eventLog{}
	consumer := newFakeComponent("consumer", events)
	dispatcher := newFakeComponent("dispatcher", events)
	server := &fakeServer{log: events}
	r := newTestRunner(t, events, consumer, dispatcher, server)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()

	<-consumer.started
	server.errs <- errors.New("accept failed")

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP server failed")
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_ServerStartFailure(t *testing.T) {
	events := &eventLog{}
	consumer := newFakeComponent("consumer", events)
	dispatcher := newFakeComponent("dispatcher", events)
	server := &fakeServer{log: events, startErr: errors.New("address already in use")}
	r := newTestRunner(t, events, consumer, dispatcher, server)

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start HTTP server")
	assert.Equal(t, []string{"closer"}, events.list())
}

func TestRunner_LockHeld(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "worker.lock")
	other := flock.New(lockFile)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	t.Cleanup(func() { _ = other.Unlock() })

	events := &eventLog{}
	r := NewRunner(&RunnerConfig{
		Logger:     logger.Discard(),
		LockFile:   lockFile,
		Consumer:   newFakeComponent("consumer", events),
		Dispatcher: newFakeComponent("dispatcher", events),
	})

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, err, domain.ErrUnrecoverable)
	assert.Empty(t, events.list())
}

func TestWorkerCommand(t *testing.T) {
	command, err := WorkerCommand(&config.WorkerConfig{Command: []string{"/usr/bin/worker", "-v"}}, "cfg.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/worker", "-v"}, command)

	command, err = WorkerCommand(&config.WorkerConfig{}, "/etc/worker/config.yaml")
	require.NoError(t, err)
	require.Len(t, command, 4)
	assert.Equal(t, []string{PipelineCommand, "--config", "/etc/worker/config.yaml"}, command[1:])
}

func TestRabbitConfig(t *testing.T) {
	cfg := config.Default()
	cfg.RabbitMQ.Consumer.PrefetchCount = 4

	rabbitCfg := RabbitConfig(&cfg.RabbitMQ)
	assert.Equal(t, config.DefaultQueueName, rabbitCfg.QueueName)
	assert.Equal(t, 4, rabbitCfg.PrefetchCount)
	assert.True(t, rabbitCfg.QueueDurable)
}
