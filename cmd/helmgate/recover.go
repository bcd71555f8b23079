package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helmgate/helmgate/internal/domain"
)

func newRecoverCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover <tier> <scenario>",
		Short: "Run a disaster recovery playbook (app-failure, db-failure, infra-failure)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := domain.ParseTier(args[0])
			if err != nil {
				return err
			}
			scenario, err := domain.ParseScenario(args[1])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *configPath, tier)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.dispatcher.Dispatch(cmd.Context(), scenario, tier)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "recovery %s on %s:\n", out.Scenario, out.Tier)
			if len(out.ActionsTaken) == 0 {
				fmt.Fprintln(w, "  actions: none")
			}
			for _, action := range out.ActionsTaken {
				fmt.Fprintf(w, "  action: %s\n", action)
			}
			for _, finding := range out.Findings {
				fmt.Fprintf(w, "  finding: %s\n", finding)
			}
			if out.RequiresManualFollowUp {
				fmt.Fprintln(w, "  manual follow-up required")
			}
			return nil
		},
	}
	return cmd
}
