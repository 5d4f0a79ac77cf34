// Package service runs the worker service: broker consumer, dispatcher and ops
// HTTP server under one single-instance lock, with ordered shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
)

// DefaultShutdownTimeout bounds HTTP shutdown and resource cleanup
const DefaultShutdownTimeout = 10 * time.Second

// ErrAlreadyRunning is returned when another instance holds the lock file
var ErrAlreadyRunning = errors.New("another instance is already running")

// Component is a long-running part of the service. Stop must make Run return.
type Component interface {
	Run(ctx context.Context) error
	Stop()
}

// HTTPServer is the optional ops server
type HTTPServer interface {
	Start() (<-chan error, error)
	Shutdown(ctx context.Context) error
}

// RunnerConfig holds service runner configuration
type RunnerConfig struct {
	Logger          *slog.Logger
	LockFile        string
	Consumer        Component
	Dispatcher      Component
	Server          HTTPServer
	ShutdownTimeout time.Duration
	Closers         []func() error
}

// Runner owns the lifecycle of the service components
type Runner struct {
	logger          *slog.Logger
	lockFile        string
	consumer        Component
	dispatcher      Component
	server          HTTPServer
	shutdownTimeout time.Duration
	closers         []func() error
}

// NewRunner creates a new service runner
func NewRunner(cfg *RunnerConfig) *Runner {
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	return &Runner{
		logger:          cfg.Logger,
		lockFile:        cfg.LockFile,
		consumer:        cfg.Consumer,
		dispatcher:      cfg.Dispatcher,
		server:          cfg.Server,
		shutdownTimeout: shutdownTimeout,
		closers:         cfg.Closers,
	}
}

type task struct {
	done chan struct{}
	err  error
}

func start(ctx context.Context, c Component) *task {
	t := &task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = c.Run(ctx)
	}()
	return t
}

// Run holds the lock and runs until ctx is cancelled or a component fails.
// Shutdown stops the consumer first so no job arrives while workers are being
// stopped, then the dispatcher, then the HTTP server. The returned error is
// the failure that ended the run, nil on a requested stop.
func (r *Runner) Run(ctx context.Context) error {
	lock := flock.New(r.lockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", r.lockFile, err)
	}
	if !locked {
		return fmt.Errorf("%w: %w (lock %s)", domain.ErrUnrecoverable, ErrAlreadyRunning, r.lockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("Failed to release lock",
				slog.String("lock_file", r.lockFile),
				slog.Any("error", err),
			)
		}
	}()

	var serverErrs <-chan error
	if r.server != nil {
		serverErrs, err = r.server.Start()
		if err != nil {
			r.close()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	dispatch := start(ctx, r.dispatcher)
	consume := start(ctx, r.consumer)

	r.logger.Info("Service is running",
		slog.String("lock_file", r.lockFile),
	)

	runErr := r.wait(ctx, consume, dispatch, serverErrs)

	r.shutdown(consume, dispatch)

	if runErr != nil {
		return runErr
	}

	r.logger.Info("Service stopped")
	return nil
}

// wait blocks until shutdown is requested or a component ends on its own
func (r *Runner) wait(ctx context.Context, consume, dispatch *task, serverErrs <-chan error) error {
	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("Shutdown requested")
	case <-consume.done:
		if consume.err == nil && ctx.Err() != nil {
			return nil
		}
		runErr = consume.err
		if runErr == nil {
			runErr = errors.New("consumer stopped unexpectedly")
		}
		r.logger.Error("Consumer failed, shutting down",
			slog.Any("error", runErr),
		)
	case <-dispatch.done:
		if dispatch.err == nil && ctx.Err() != nil {
			return nil
		}
		runErr = dispatch.err
		if runErr == nil {
			runErr = errors.New("dispatcher stopped unexpectedly")
		}
		r.logger.Error("Dispatcher failed, shutting down",
			slog.Any("error", runErr),
		)
	case err := <-serverErrs:
		runErr = fmt.Errorf("HTTP server failed: %w", err)
		r.logger.Error("HTTP server failed, shutting down",
			slog.Any("error", err),
		)
	}
	return runErr
}

func (r *Runner) shutdown(consume, dispatch *task) {
	begin := time.Now()

	r.consumer.Stop()
	<-consume.done
	r.logger.Info("Consumer stopped")

	r.dispatcher.Stop()
	<-dispatch.done
	r.logger.Info("Dispatcher stopped")

	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
		_ = r.server.Shutdown(ctx)
		cancel()
	}

	r.close()

	r.logger.Info("Shutdown complete",
		slog.Duration("elapsed", time.Since(begin)),
	)
}

func (r *Runner) close() {
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil {
			r.logger.Warn("Failed to close resource",
				slog.Any("error", err),
			)
		}
	}
}
