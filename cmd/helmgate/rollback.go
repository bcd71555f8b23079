package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helmgate/helmgate/internal/domain"
)

func newRollbackCmd(configPath *string) *cobra.Command {
	var (
		checkpointID string
		reason       string
	)

	cmd := &cobra.Command{
		Use:   "rollback <tier>",
		Short: "Revert a tier to its most recent checkpoint",
		Args:  cobra.ExactArgs(1),
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

			res, err := a.controller.Rollback(cmd.Context(), domain.RollbackRequest{
				Tier:         tier,
				CheckpointID: checkpointID,
				Reason:       reason,
			})
			if errors.Is(err, domain.ErrNoCheckpoint) {
				return exitWith(exitNoCheckpoint, err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rolled %s back to %s via checkpoint %s (%d instances, healthy=%v)\n",
				res.Tier, res.RestoredVersion, res.CheckpointID, res.PoolSize, res.Healthy)
			return nil
		},
	}

	cmd.Flags().StringVar(&checkpointID, "to", "", "checkpoint to restore (defaults to the most recent)")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form reason recorded with the rollback")
	return cmd
}
