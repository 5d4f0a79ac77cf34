package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Worker     WorkerConfig     `yaml:"worker"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Service    ServiceConfig    `yaml:"service"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
}

// ExchangeConfig holds RabbitMQ exchange configuration. An empty name uses the
// default exchange and routes by queue name.
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// ReconnectConfig controls the consumer supervisor backoff
type ReconnectConfig struct {
	Step time.Duration `yaml:"step"`
	Max  time.Duration `yaml:"max"`
}

// DispatcherConfig holds dispatch loop and shutdown timing
type DispatcherConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	GracePeriod  time.Duration `yaml:"grace_period"`
}

// WorkerConfig describes how worker processes are launched. An empty command
// re-executes the running binary with the pipeline subcommand.
type WorkerConfig struct {
	Command       []string      `yaml:"command"`
	Dir           string        `yaml:"dir"`
	Env           []string      `yaml:"env"`
	KillTimeout   time.Duration `yaml:"kill_timeout"`
	InheritOutput bool          `yaml:"inherit_output"`
}

// PipelineConfig holds settings used inside the worker process
type PipelineConfig struct {
	BusPollInterval time.Duration   `yaml:"bus_poll_interval"`
	Inference       InferenceConfig `yaml:"inference"`
}

// InferenceConfig holds the default detection settings applied to jobs that
// do not carry their own
type InferenceConfig struct {
	ConfigPath string `yaml:"config_path"`
	BatchSize  int    `yaml:"batch_size"`
	GPUID      int    `yaml:"gpu_id"`
}

// HTTPConfig holds ops HTTP server configuration
type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	SubmitEnabled   bool          `yaml:"submit_enabled"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds run history store configuration
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// ServiceConfig holds process-level settings
type ServiceConfig struct {
	LockFile        string        `yaml:"lock_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file on top of the defaults.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := decode(configPath, data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Resolve loads the optional config file, applies environment overrides and
// validates the result
func Resolve(configPath string, lookup LookupFunc) (*Config, error) {
	config := Default()
	if configPath != "" {
		loaded, err := Load(configPath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if err := config.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func decode(path string, data []byte, config *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		// TOML has no duration type; re-encode as YAML so "10s" style values
		// and the yaml tags are shared between both formats
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return err
		}
		converted, err := yaml.Marshal(tree)
		if err != nil {
			return err
		}
		data = converted
	}

	return yaml.Unmarshal(data, config)
}
