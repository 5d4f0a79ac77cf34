// Package pipeline is the worker-process side of a job: it decodes the job
// handed over on stdin, builds the media pipeline and runs it to completion.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
)

// maxJobSize bounds the job payload read from stdin
const maxJobSize = 1 << 20

// Pipeline is one running media pipeline
type Pipeline interface {
	// Run blocks until the stream ends, fails, or Stop is called
	Run(ctx context.Context) error
	// Stop asks Run to tear the pipeline down and return
	Stop()
}

// Factory builds the pipeline for a job
type Factory interface {
	Create(job *domain.Job) (Pipeline, error)
}

// RunWorker runs one job read from stdin and returns the process exit code.
// SIGTERM, SIGINT and ctx cancellation stop the pipeline.
func RunWorker(ctx context.Context, stdin io.Reader, factory Factory, logger *slog.Logger) int {
	job, err := readJob(stdin)
	if err != nil {
		logger.Error("Invalid job",
			slog.Any("error", err),
		)
		return domain.ExitInvalidJob
	}

	logger = logger.With(slog.String("job_id", job.ID))

	p, err := factory.Create(job)
	if err != nil {
		logger.Error("Failed to create pipeline",
			slog.String("source_type", job.Input.Source.Type),
			slog.Any("error", err),
		)
		return domain.ExitCreateFailed
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	runDone := make(chan struct{})
	defer close(runDone)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, stopping pipeline",
				slog.String("signal", sig.String()),
			)
			p.Stop()
		case <-ctx.Done():
			p.Stop()
		case <-runDone:
		}
	}()

	logger.Info("Pipeline starting",
		slog.String("source_type", job.Input.Source.Type),
		slog.String("source_location", job.Input.Source.Location),
		slog.String("output_type", job.Output.Type),
	)

	if err := p.Run(ctx); err != nil {
		logger.Error("Pipeline failed",
			slog.Any("error", err),
		)
		return domain.ExitPipelineError
	}

	logger.Info("Pipeline finished")
	return domain.ExitOK
}

func readJob(r io.Reader) (*domain.Job, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no job input", domain.ErrInvalidJob)
	}

	body, err := io.ReadAll(io.LimitReader(r, maxJobSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	if len(body) > maxJobSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", domain.ErrInvalidJob, maxJobSize)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty job payload", domain.ErrInvalidJob)
	}

	return domain.DecodeJob(body)
}
