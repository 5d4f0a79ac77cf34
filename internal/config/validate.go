package config

import (
	"fmt"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Dispatcher.PollInterval <= 0 {
		return fmt.Errorf("dispatcher poll_interval must be greater than 0")
	}

	if c.Dispatcher.GracePeriod <= 0 {
		return fmt.Errorf("dispatcher grace_period must be greater than 0")
	}

	if c.Worker.KillTimeout <= 0 {
		return fmt.Errorf("worker kill_timeout must be greater than 0")
	}

	if c.Pipeline.Inference.BatchSize < 0 {
		return fmt.Errorf("pipeline inference batch_size must not be negative")
	}

	if c.HTTP.Enabled && (c.HTTP.Port < MinPort || c.HTTP.Port > MaxPort) {
		return fmt.Errorf("invalid http port: %d (must be between %d and %d)", c.HTTP.Port, MinPort, MaxPort)
	}

	if c.Database.Enabled {
		if err := c.validateDatabase(); err != nil {
			return err
		}
	}

	if c.Service.LockFile == "" {
		return fmt.Errorf("service lock_file is required")
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q (must be json or console)", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.RabbitMQ.Exchange.Name != "" {
		switch c.RabbitMQ.Exchange.Type {
		case "direct", "fanout", "topic", "headers":
		default:
			return fmt.Errorf("invalid rabbitmq exchange type: %q", c.RabbitMQ.Exchange.Type)
		}
	}

	if c.RabbitMQ.Consumer.PrefetchCount < 0 {
		return fmt.Errorf("rabbitmq consumer prefetch_count must not be negative")
	}

	if c.RabbitMQ.Reconnect.Step <= 0 {
		return fmt.Errorf("rabbitmq reconnect step must be greater than 0")
	}

	if c.RabbitMQ.Reconnect.Max < c.RabbitMQ.Reconnect.Step {
		return fmt.Errorf("rabbitmq reconnect max must be at least the step")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	return nil
}
