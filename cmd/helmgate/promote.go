package main

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/promotion"
)

func newPromoteCmd(configPath *string) *cobra.Command {
	var requestedBy string

	cmd := &cobra.Command{
		Use:   "promote <from-tier> <to-tier> <version>",
		Short: "Promote a version to the next tier through the acceptance gate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			toTier, err := domain.ParseTier(args[1])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *configPath, toTier)
			if err != nil {
				return err
			}
			defer a.Close()

			if requestedBy == "" {
				if u, err := user.Current(); err == nil {
					requestedBy = u.Username
				} else {
					requestedBy = "operator"
				}
			}

			rec, err := a.gate.Promote(cmd.Context(), promotion.Request{
				FromTier:    domain.Tier(args[0]),
				ToTier:      toTier,
				Version:     args[2],
				RequestedBy: requestedBy,
			})
			if err != nil {
				return err
			}

			if rec.Outcome == domain.PromotionRejected {
				fmt.Fprintf(cmd.OutOrStdout(), "promotion %s rejected: %s\n", rec.ID, rec.Reason)
				return exitWith(exitRejected, fmt.Errorf("promotion rejected: %s", rec.Reason))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promotion %s approved: %s -> %s at %s (rollout %s)\n",
				rec.ID, rec.FromTier, rec.ToTier, rec.Version, rec.RolloutID)
			return nil
		},
	}

	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "who requested the promotion (defaults to the current user)")
	return cmd
}
