package main

import (
	"os"

	"github.com/spf13/cobra"
)

// ConfigPathEnv names the config file when --config is not given
const ConfigPathEnv = "LIVESTREAM_WORKER_CONFIG"

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "livestream-worker",
		Short:         "Runs livestream AI pipelines as supervised worker processes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", os.Getenv(ConfigPathEnv), "Configuration file path (yaml or toml)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPipelineCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newRunsCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
