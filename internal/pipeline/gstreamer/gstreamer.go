// Package gstreamer runs job pipelines with GStreamer.
package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/internal/pipeline"
)

// DefaultBusPollInterval keeps Stop responsive while waiting on the bus
const DefaultBusPollInterval = 50 * time.Millisecond

var initOnce sync.Once

// FactoryConfig holds GStreamer factory configuration
type FactoryConfig struct {
	Logger          *slog.Logger
	BusPollInterval time.Duration
	Inference       *domain.Inference
}

// Factory builds GStreamer pipelines from launch descriptions
type Factory struct {
	logger          *slog.Logger
	busPollInterval time.Duration
	inference       *domain.Inference
}

func NewFactory(cfg *FactoryConfig) *Factory {
	initOnce.Do(func() { gst.Init(nil) })

	pollInterval := cfg.BusPollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultBusPollInterval
	}

	return &Factory{
		logger:          cfg.Logger,
		busPollInterval: pollInterval,
		inference:       cfg.Inference,
	}
}

// Create parses the job's launch description into a pipeline
func (f *Factory) Create(job *domain.Job) (pipeline.Pipeline, error) {
	launch, err := pipeline.BuildLaunch(job, f.inference)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("Creating pipeline",
		slog.String("job_id", job.ID),
		slog.String("launch", launch),
	)

	p, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return &Pipeline{
		pipeline:     p,
		logger:       f.logger,
		pollInterval: f.busPollInterval,
		stopCh:       make(chan struct{}),
	}, nil
}

// Pipeline is a GStreamer pipeline watched through its bus
type Pipeline struct {
	pipeline     *gst.Pipeline
	logger       *slog.Logger
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// Run sets the pipeline playing and watches the bus. End of stream and Stop
// return nil; a bus error is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer func() {
		if err := p.pipeline.SetState(gst.StateNull); err != nil {
			p.logger.Warn("Failed to reset pipeline state",
				slog.Any("error", err),
			)
		}
	}()

	startedAt := time.Now()
	bus := p.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			p.logger.Info("Pipeline stop requested",
				slog.Duration("uptime", time.Since(startedAt)),
			)
			return nil
		default:
		}

		msg := bus.TimedPop(p.pollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			p.logger.Info("End of stream received",
				slog.Duration("uptime", time.Since(startedAt)),
			)
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			p.logger.Error("Pipeline error",
				slog.String("error", gerr.Error()),
				slog.String("debug", gerr.DebugString()),
				slog.String("source", msg.Source()),
				slog.Duration("uptime", time.Since(startedAt)),
			)
			return fmt.Errorf("pipeline error from %s: %s", msg.Source(), gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == p.pipeline.GetName() {
				oldState, newState := msg.ParseStateChanged()
				p.logger.Debug("Pipeline state changed",
					slog.Any("from", oldState),
					slog.Any("to", newState),
				)
			}
		}
	}
}

// Stop makes Run return; safe to call more than once
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
