package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helmgate/helmgate/internal/domain"
)

const (
	exitRolledBack   = 1
	exitLocked       = 2
	exitRejected     = 3
	exitNoCheckpoint = 4
)

func newDeployCmd(configPath *string) *cobra.Command {
	var (
		reapply    bool
		reason     string
		minHealthy float64
	)

	cmd := &cobra.Command{
		Use:   "deploy <tier> <version>",
		Short: "Roll a version out to a tier in health-gated batches",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := domain.ParseTier(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *configPath, tier)
			if err != nil {
				return err
			}
			defer a.Close()

			a.artifacts.Publish(args[1], "local://"+args[1])

			res, err := a.controller.Deploy(cmd.Context(), domain.RolloutRequest{
				Tier:               tier,
				TargetVersion:      args[1],
				MinHealthyFraction: minHealthy,
				Reapply:            reapply,
				Reason:             reason,
			})
			switch {
			case errors.Is(err, domain.ErrLocked):
				return exitWith(exitLocked, err)
			case errors.Is(err, domain.ErrRolloutFailed):
				fmt.Fprintf(cmd.OutOrStdout(), "rollout %s rolled back after batch %d of %d: %s\n",
					res.RolloutID, res.FailedBatch, res.BatchesTotal, res.Reason)
				if res.Rollback != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "restored %s at %s (%d instances, healthy=%v)\n",
						res.Tier, res.Rollback.RestoredVersion, res.Rollback.PoolSize, res.Rollback.Healthy)
				}
				return exitWith(exitRolledBack, err)
			case err != nil:
				return err
			}

			switch res.Outcome {
			case domain.OutcomeNoop:
				fmt.Fprintf(cmd.OutOrStdout(), "%s already at %s and healthy; nothing to do\n", res.Tier, res.ToVersion)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "rollout %s: %s now at %s (%d batches)\n",
					res.RolloutID, res.Tier, res.ToVersion, res.BatchesDone)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reapply, "reapply", false, "redeploy even if the tier already runs the target version")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form reason recorded with the rollout")
	cmd.Flags().Float64Var(&minHealthy, "min-healthy", 0, "override the tier's minimum healthy fraction for this rollout")
	return cmd
}
