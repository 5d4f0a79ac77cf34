package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/livestream-ai-worker/internal/service"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume pipeline requests and supervise worker processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			appLogger, err := ctx.newLogger(cfg, false)
			if err != nil {
				return err
			}
			defer appLogger.Close()

			appLogger.Info("Starting worker service",
				slog.String("app", cfg.App.Name),
				slog.String("version", cfg.App.Version),
				slog.String("environment", cfg.App.Environment),
				slog.String("queue", cfg.RabbitMQ.Queue.Name),
			)

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			runner, err := service.Build(runCtx, &service.Options{
				Config:     cfg,
				ConfigPath: ctx.configPath(),
				Logger:     appLogger.Logger,
				Registry:   reg,
			})
			if err != nil {
				appLogger.Error("Failed to build service", slog.Any("error", err))
				return err
			}

			if err := runner.Run(runCtx); err != nil {
				appLogger.Error("Service exited with error", slog.Any("error", err))
				return err
			}
			return nil
		},
	}
}

