package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values
const (
	DefaultAppName        = "livestream-ai-worker"
	DefaultQueueName      = "pipelines"
	DefaultHTTPPort       = 8000
	DefaultPollInterval   = time.Second
	DefaultGracePeriod    = 10 * time.Second
	DefaultKillTimeout    = 2 * time.Second
	DefaultReconnectStep  = time.Second
	DefaultReconnectMax   = 30 * time.Second
	DefaultConsumerTag    = "livestream-worker"
	DefaultSQLiteFileName = "runs.db"
)

// Default returns a configuration that runs against a local broker
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        DefaultAppName,
			Version:     "dev",
			Environment: "dev",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			TimeFormat: time.RFC3339,
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			Password: "guest",
			VHost:    "/",
			Exchange: ExchangeConfig{
				Type:    "direct",
				Durable: true,
			},
			Queue: QueueConfig{
				Name:    DefaultQueueName,
				Durable: true,
			},
			Connection: ConnectionConfig{
				RetryAttempts:     1,
				RetryInterval:     time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2.0,
			},
			Consumer: ConsumerConfig{
				Tag:           DefaultConsumerTag,
				PrefetchCount: 1,
			},
			Reconnect: ReconnectConfig{
				Step: DefaultReconnectStep,
				Max:  DefaultReconnectMax,
			},
		},
		Dispatcher: DispatcherConfig{
			PollInterval: DefaultPollInterval,
			GracePeriod:  DefaultGracePeriod,
		},
		Worker: WorkerConfig{
			KillTimeout:   DefaultKillTimeout,
			InheritOutput: true,
		},
		Pipeline: PipelineConfig{
			BusPollInterval: 100 * time.Millisecond,
			Inference: InferenceConfig{
				BatchSize: 1,
			},
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Port:            DefaultHTTPPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            filepath.Join(os.TempDir(), DefaultAppName, DefaultSQLiteFileName),
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Service: ServiceConfig{
			LockFile:        filepath.Join(os.TempDir(), DefaultAppName+".lock"),
			ShutdownTimeout: 30 * time.Second,
		},
	}
}
