package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/internal/publisher"
	"github.com/cuongbtq/livestream-ai-worker/internal/service"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <job.json|->",
		Short: "Publish a pipeline-start request to the broker queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			job, err := domain.DecodeJob(body)
			if err != nil {
				return err
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			appLogger, err := ctx.newLogger(cfg, true)
			if err != nil {
				return err
			}
			defer appLogger.Close()

			pub := publisher.New(service.RabbitConfig(&cfg.RabbitMQ), appLogger.Component("submit"))
			if err := pub.PublishJob(cmd.Context(), job); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		},
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read job from stdin: %w", err)
		}
		return body, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return body, nil
}
