package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cuongbtq/livestream-ai-worker/internal/config"
	"github.com/cuongbtq/livestream-ai-worker/shared/logger"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Resolve(c.configPath(), os.LookupEnv)
	})
	return c.config, c.configErr
}

// newLogger builds the application logger. Worker processes force stderr so
// their stdout stays free for the pipeline.
func (c *commandContext) newLogger(cfg *config.Config, forceStderr bool) (*logger.Logger, error) {
	output := cfg.Logging.Output
	if forceStderr && (output == "" || output == "stdout") {
		output = "stderr"
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       output,
		EnableSource: cfg.Logging.EnableSource,
		TimeFormat:   cfg.Logging.TimeFormat,
		Service:      cfg.App.Name,
		Version:      cfg.App.Version,
		Environment:  cfg.App.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return appLogger, nil
}

// apiBaseURL is the ops server address used by the client commands
func apiBaseURL(cfg *config.Config, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTP.Port)
}
