package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:           "helmgate",
		Short:         "Health-gated rollout and recovery controller",
		Long:          "helmgate drives batched, health-gated rollouts across dev, staging, and prod, with checkpointed rollback, gated promotion, alert escalation, and disaster recovery playbooks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newDeployCmd(&configPath),
		newPromoteCmd(&configPath),
		newRollbackCmd(&configPath),
		newRecoverCmd(&configPath),
		newAlarmsCmd(&configPath),
		newStatusCmd(&configPath),
	)
	return cmd
}
