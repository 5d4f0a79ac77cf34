package config

import (
	"fmt"
	"strconv"
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// Environment variables understood by ApplyEnv
const (
	EnvAMQPHost            = "AMQP_HOST"
	EnvAMQPPort            = "AMQP_PORT"
	EnvAMQPUsername        = "AMQP_USERNAME"
	EnvAMQPPassword        = "AMQP_PASSWORD"
	EnvPipelineQueue       = "LIVESTREAM_PIPELINE_QUEUE"
	EnvAppName             = "APP_NAME"
	EnvVersion             = "VERSION"
	EnvMetricsPort         = "METRICS_PORT"
	EnvLogLevel            = "LOG_LEVEL"
	EnvEnvironment         = "ENVIRONMENT"
	EnvDetectionConfigPath = "DETECTION_CONFIG_FILE_PATH"
	EnvDetectionBatchSize  = "DETECTION_BATCH_SIZE"
	EnvDetectionGPUID      = "DETECTION_GPU_ID"
)

// ApplyEnv overrides file values with environment variables. A nil lookup
// leaves the configuration untouched.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	textVars := []struct {
		key    string
		target *string
	}{
		{EnvAMQPHost, &c.RabbitMQ.Host},
		{EnvAMQPUsername, &c.RabbitMQ.User},
		{EnvAMQPPassword, &c.RabbitMQ.Password},
		{EnvPipelineQueue, &c.RabbitMQ.Queue.Name},
		{EnvAppName, &c.App.Name},
		{EnvVersion, &c.App.Version},
		{EnvLogLevel, &c.Logging.Level},
		{EnvEnvironment, &c.App.Environment},
		{EnvDetectionConfigPath, &c.Pipeline.Inference.ConfigPath},
	}
	for _, s := range textVars {
		if value, ok := lookup(s.key); ok && value != "" {
			*s.target = value
		}
	}

	intVars := []struct {
		key    string
		target *int
	}{
		{EnvAMQPPort, &c.RabbitMQ.Port},
		{EnvMetricsPort, &c.HTTP.Port},
		{EnvDetectionBatchSize, &c.Pipeline.Inference.BatchSize},
		{EnvDetectionGPUID, &c.Pipeline.Inference.GPUID},
	}
	for _, i := range intVars {
		value, ok := lookup(i.key)
		if !ok || value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", i.key, value, err)
		}
		*i.target = parsed
	}

	return nil
}
