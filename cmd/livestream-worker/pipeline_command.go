package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/internal/pipeline"
	"github.com/cuongbtq/livestream-ai-worker/internal/pipeline/gstreamer"
	"github.com/cuongbtq/livestream-ai-worker/internal/service"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   service.PipelineCommand,
		Short: "Run one pipeline from a job read on stdin (worker process entry point)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return &exitCodeError{code: domain.ExitInvalidJob}
			}

			appLogger, err := ctx.newLogger(cfg, true)
			if err != nil {
				return err
			}
			defer appLogger.Close()

			var inference *domain.Inference
			if cfg.Pipeline.Inference.ConfigPath != "" {
				inference = &domain.Inference{
					ConfigPath: cfg.Pipeline.Inference.ConfigPath,
					BatchSize:  cfg.Pipeline.Inference.BatchSize,
					GPUID:      cfg.Pipeline.Inference.GPUID,
				}
			}

			log := appLogger.Component("pipeline")
			factory := gstreamer.NewFactory(&gstreamer.FactoryConfig{
				Logger:          log,
				BusPollInterval: cfg.Pipeline.BusPollInterval,
				Inference:       inference,
			})

			code := pipeline.RunWorker(cmd.Context(), cmd.InOrStdin(), factory, log)
			if code != domain.ExitOK {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}
}
