package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/livestream-ai-worker/internal/api/dto"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service health and running workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base := apiBaseURL(cfg, addr)

			var health dto.HealthResponse
			if _, err := getJSON(cmd.Context(), base+"/health", &health); err != nil {
				return err
			}

			var workers dto.ListWorkersResponse
			if _, err := getJSON(cmd.Context(), base+"/api/v1/workers", &workers); err != nil {
				return err
			}

			renderStatus(cmd.OutOrStdout(), &health, &workers)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Ops server base URL (default from http.port)")
	return cmd
}

func renderStatus(w io.Writer, health *dto.HealthResponse, workers *dto.ListWorkersResponse) {
	summary := renderTable(summaryColumns, [][]string{{
		health.Service,
		health.Status,
		health.Consumer.State,
		health.Consumer.Connection,
		strconv.FormatInt(health.Consumer.Reconnects, 10),
		health.Dispatcher.State,
		strconv.Itoa(health.Dispatcher.ActiveWorkers),
	}})
	fmt.Fprintln(w, summary)

	if len(workers.Workers) == 0 {
		fmt.Fprintln(w, "No active workers")
		return
	}

	rows := make([][]string, 0, len(workers.Workers))
	for _, worker := range workers.Workers {
		rows = append(rows, []string{
			worker.JobID,
			strconv.Itoa(worker.PID),
			worker.State,
			worker.SourceType,
			worker.SourceLocation,
			formatUptime(worker.UptimeSeconds),
		})
	}

	fmt.Fprintln(w, renderTable(workerColumns, rows))
}

func formatUptime(seconds float64) string {
	return (time.Duration(seconds) * time.Second).String()
}
