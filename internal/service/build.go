package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/livestream-ai-worker/internal/api"
	"github.com/cuongbtq/livestream-ai-worker/internal/api/handler"
	"github.com/cuongbtq/livestream-ai-worker/internal/api/router"
	"github.com/cuongbtq/livestream-ai-worker/internal/config"
	"github.com/cuongbtq/livestream-ai-worker/internal/consumer"
	"github.com/cuongbtq/livestream-ai-worker/internal/dispatcher"
	"github.com/cuongbtq/livestream-ai-worker/internal/jobqueue"
	"github.com/cuongbtq/livestream-ai-worker/internal/metrics"
	"github.com/cuongbtq/livestream-ai-worker/internal/publisher"
	"github.com/cuongbtq/livestream-ai-worker/internal/runstore"
	"github.com/cuongbtq/livestream-ai-worker/internal/worker"
	"github.com/cuongbtq/livestream-ai-worker/shared/database"
	"github.com/cuongbtq/livestream-ai-worker/shared/rabbitmq"
)

// PipelineCommand is the subcommand a worker process runs
const PipelineCommand = "pipeline"

// Options are the inputs to Build
type Options struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Registry   *prometheus.Registry
}

// Build wires every component from the configuration
func Build(ctx context.Context, opts *Options) (*Runner, error) {
	cfg := opts.Config
	log := opts.Logger

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	var closers []func() error

	var (
		store    *runstore.Store
		recorder dispatcher.RunRecorder
	)
	if cfg.Database.Enabled {
		dbClient, err := database.NewClient(ctx, DatabaseConfig(&cfg.Database), log.With(slog.String("component", "database")))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		closers = append(closers, dbClient.Close)

		store = runstore.NewStore(dbClient, log.With(slog.String("component", "runstore")))
		if err := store.EnsureSchema(ctx); err != nil {
			_ = dbClient.Close()
			return nil, fmt.Errorf("failed to initialize run store: %w", err)
		}
		recorder = runstore.NewRecorder(store)
	}

	command, err := WorkerCommand(&cfg.Worker, opts.ConfigPath)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	var stdout, stderr io.Writer
	if cfg.Worker.InheritOutput {
		stdout, stderr = os.Stdout, os.Stderr
	}

	launcher := worker.NewLauncher(&worker.LauncherConfig{
		Logger:      log.With(slog.String("component", "worker")),
		Command:     command,
		Dir:         cfg.Worker.Dir,
		Env:         cfg.Worker.Env,
		Stdout:      stdout,
		Stderr:      stderr,
		KillTimeout: cfg.Worker.KillTimeout,
	})

	queue := jobqueue.New()

	d := dispatcher.New(&dispatcher.Config{
		Logger:       log.With(slog.String("component", "dispatcher")),
		Queue:        queue,
		Launcher:     launcher,
		PollInterval: cfg.Dispatcher.PollInterval,
		GracePeriod:  cfg.Dispatcher.GracePeriod,
		Metrics:      m,
		Recorder:     recorder,
	})

	rabbitCfg := RabbitConfig(&cfg.RabbitMQ)
	consumerLog := log.With(slog.String("component", "consumer"))

	supervisor := consumer.NewSupervisor(&consumer.SupervisorConfig{
		Logger:      consumerLog,
		Dial:        Dialer(rabbitCfg, consumerLog),
		Sink:        queue,
		ConsumerTag: cfg.RabbitMQ.Consumer.Tag,
		Policy:      consumer.NewReconnectPolicy(cfg.RabbitMQ.Reconnect.Step, cfg.RabbitMQ.Reconnect.Max),
		Metrics:     m,
	})

	var server HTTPServer
	if cfg.HTTP.Enabled {
		apiLog := log.With(slog.String("component", "api"))
		deps := &handler.Dependencies{
			Logger:   apiLog,
			Service:  cfg.App.Name,
			Version:  cfg.App.Version,
			Workers:  d,
			Consumer: supervisor,
			Gatherer: reg,
		}
		if store != nil {
			deps.Runs = store
		}
		if cfg.HTTP.SubmitEnabled {
			deps.Publisher = publisher.New(rabbitCfg, apiLog)
		}

		server = api.NewServer(&api.ServerConfig{
			Port:         cfg.HTTP.Port,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}, router.SetupRouter(deps), apiLog)
	}

	shutdownTimeout := cfg.HTTP.ShutdownTimeout
	if cfg.Service.ShutdownTimeout > 0 {
		shutdownTimeout = cfg.Service.ShutdownTimeout
	}

	return NewRunner(&RunnerConfig{
		Logger:          log,
		LockFile:        cfg.Service.LockFile,
		Consumer:        supervisor,
		Dispatcher:      d,
		Server:          server,
		ShutdownTimeout: shutdownTimeout,
		Closers:         closers,
	}), nil
}

// Dialer opens a broker session per connection attempt
func Dialer(rabbitCfg *rabbitmq.Config, log *slog.Logger) consumer.Dialer {
	return func(ctx context.Context) (consumer.Session, error) {
		client, err := rabbitmq.NewClient(ctx, rabbitCfg, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// WorkerCommand returns the configured worker command, or this binary's
// pipeline subcommand when none is configured
func WorkerCommand(cfg *config.WorkerConfig, configPath string) ([]string, error) {
	if len(cfg.Command) > 0 {
		return append([]string(nil), cfg.Command...), nil
	}

	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worker executable: %w", err)
	}

	command := []string{executable, PipelineCommand}
	if configPath != "" {
		command = append(command, "--config", configPath)
	}
	return command, nil
}

// RabbitConfig maps the broker section onto the client configuration
func RabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// DatabaseConfig maps the database section onto the client configuration
func DatabaseConfig(cfg *config.DatabaseConfig) *database.Config {
	return &database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

func closeAll(closers []func() error) {
	for _, closeFn := range closers {
		_ = closeFn()
	}
}
