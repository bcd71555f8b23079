package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(configPath *string) *cobra.Command {
	var showPromotions bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show environment state and the promotion log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, "")
			if err != nil {
				return err
			}
			defer a.Close()

			envs, err := a.environments.List(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			now := time.Now()
			for _, env := range envs {
				version := env.CurrentVersion
				if version == "" {
					version = "(none)"
				}
				fmt.Fprintf(w, "%-8s version=%-12s pool=%d healthy=%v", env.Tier, version, len(env.Instances), env.FullyHealthy())
				if env.Locked(now) {
					fmt.Fprintf(w, " locked-by=%s until %s", env.LockHolder, env.LeaseExpiresAt.Format(time.RFC3339))
				}
				fmt.Fprintln(w)
			}

			if !showPromotions {
				return nil
			}
			recs, err := a.promotions.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Fprintf(w, "promotion %s: %s -> %s %s %s", rec.ID, rec.FromTier, rec.ToTier, rec.Version, rec.Outcome)
				if rec.Reason != "" {
					fmt.Fprintf(w, " (%s)", rec.Reason)
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPromotions, "promotions", false, "include the promotion audit log")
	return cmd
}
