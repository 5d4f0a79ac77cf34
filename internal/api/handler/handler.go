package handler

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/livestream-ai-worker/internal/consumer"
	"github.com/cuongbtq/livestream-ai-worker/internal/dispatcher"
	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/internal/runstore"
	"github.com/cuongbtq/livestream-ai-worker/internal/worker"
)

// WorkerSource reports the dispatcher and its active workers
type WorkerSource interface {
	Active() []worker.Snapshot
	ActiveCount() int
	State() dispatcher.State
}

// ConsumerStatus reports the broker consumer
type ConsumerStatus interface {
	State() consumer.SupervisorState
	ConnectionState() consumer.ConnectionState
	Reconnects() int64
}

// RunLister reads the run history
type RunLister interface {
	ListRuns(ctx context.Context, filter runstore.RunFilter) ([]runstore.Run, error)
	GetRun(ctx context.Context, runID string) (*runstore.Run, error)
}

// JobPublisher submits jobs to the broker
type JobPublisher interface {
	PublishJob(ctx context.Context, job *domain.Job) error
}

// Dependencies holds all dependencies needed by handlers.
// Runs and Publisher are nil when the feature is disabled.
type Dependencies struct {
	Logger    *slog.Logger
	Service   string
	Version   string
	Workers   WorkerSource
	Consumer  ConsumerStatus
	Runs      RunLister
	Publisher JobPublisher
	Gatherer  prometheus.Gatherer
}

// StatusHandler serves health and worker status
type StatusHandler struct {
	logger   *slog.Logger
	service  string
	version  string
	workers  WorkerSource
	consumer ConsumerStatus
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{
		logger:   deps.Logger,
		service:  deps.Service,
		version:  deps.Version,
		workers:  deps.Workers,
		consumer: deps.Consumer,
	}
}

// RunHandler serves the run history
type RunHandler struct {
	logger *slog.Logger
	runs   RunLister
}

// NewRunHandler creates a new RunHandler instance
func NewRunHandler(deps *Dependencies) *RunHandler {
	return &RunHandler{
		logger: deps.Logger,
		runs:   deps.Runs,
	}
}

// PipelineHandler accepts pipeline-start requests over HTTP
type PipelineHandler struct {
	logger    *slog.Logger
	publisher JobPublisher
}

// NewPipelineHandler creates a new PipelineHandler instance
func NewPipelineHandler(deps *Dependencies) *PipelineHandler {
	return &PipelineHandler{
		logger:    deps.Logger,
		publisher: deps.Publisher,
	}
}
