package main

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/livestream-ai-worker/internal/api/dto"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var (
		addr     string
		jobID    string
		state    string
		outcome  string
		pageSize int
		cursor   string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded worker runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			query := url.Values{}
			setQuery(query, "job_id", jobID)
			setQuery(query, "state", state)
			setQuery(query, "outcome", outcome)
			setQuery(query, "cursor", cursor)
			if pageSize > 0 {
				query.Set("page_size", strconv.Itoa(pageSize))
			}

			target := apiBaseURL(cfg, addr) + "/api/v1/runs"
			if encoded := query.Encode(); encoded != "" {
				target += "?" + encoded
			}

			var resp dto.ListRunsResponse
			if _, err := getJSON(cmd.Context(), target, &resp); err != nil {
				return err
			}

			renderRuns(cmd.OutOrStdout(), &resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Ops server base URL (default from http.port)")
	cmd.Flags().StringVar(&jobID, "job", "", "Only runs of this job id")
	cmd.Flags().StringVar(&state, "state", "", "Only runs in this state")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only runs with this outcome (completed, stopped, failed, killed)")
	cmd.Flags().IntVarP(&pageSize, "limit", "n", 0, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	return cmd
}

func setQuery(query url.Values, key, value string) {
	if value != "" {
		query.Set(key, value)
	}
}

func renderRuns(w io.Writer, resp *dto.ListRunsResponse) {
	if len(resp.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	rows := make([][]string, 0, len(resp.Runs))
	for _, run := range resp.Runs {
		exitCode := strconv.Itoa(run.ExitCode)
		if run.Forced {
			exitCode += " (forced)"
		}
		rows = append(rows, []string{
			run.JobID,
			run.SourceType,
			run.State,
			run.Outcome,
			exitCode,
			run.StartedAt,
			formatUptime(run.DurationSeconds),
		})
	}

	fmt.Fprintln(w, renderTable(runColumns, rows))

	if resp.NextCursor != "" {
		fmt.Fprintf(w, "Next page: --cursor %s\n", resp.NextCursor)
	}
}
