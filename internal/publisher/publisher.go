// Package publisher sends pipeline-start requests to the broker queue the
// service consumes.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/shared/rabbitmq"
)

const contentType = "application/json"

// Publisher opens a short-lived broker connection per job
type Publisher struct {
	config *rabbitmq.Config
	logger *slog.Logger
}

func New(config *rabbitmq.Config, logger *slog.Logger) *Publisher {
	return &Publisher{
		config: config,
		logger: logger,
	}
}

// PublishJob validates job, filling its ID when empty, and publishes it with retry
func (p *Publisher) PublishJob(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	client, err := rabbitmq.NewClient(ctx, p.config, p.logger)
	if err != nil {
		return fmt.Errorf("failed to connect publisher: %w", err)
	}
	defer client.Close()

	if err := client.PublishWithRetry(ctx, body, contentType); err != nil {
		return err
	}

	p.logger.Info("Job published",
		slog.String("job_id", job.ID),
		slog.String("queue", p.config.QueueName),
		slog.String("source_type", job.Input.Source.Type),
	)

	return nil
}
