package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/helmgate/helmgate/internal/domain"
)

func newAlarmsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "Ingest alarm transitions from stdin and run escalations",
		Long:  "Reads one JSON-encoded alarm event per line from stdin and drives the escalation engine. Runs until stdin closes or the process is interrupted; unresolved runs persist and resume on the next start.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, *configPath, "")
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.escalations.Start(ctx); err != nil {
				return err
			}
			defer a.escalations.Close()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				if ctx.Err() != nil {
					break
				}
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}

				var event domain.AlarmEvent
				if err := json.Unmarshal(line, &event); err != nil {
					slog.Warn("malformed alarm event", "error", err)
					continue
				}
				if err := a.escalations.HandleAlarm(ctx, event); err != nil {
					slog.Warn("alarm rejected", "alarm", event.Name, "error", err)
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read alarm stream: %w", err)
			}

			// Block until interrupted so pending escalations can fire.
			<-ctx.Done()
			return nil
		},
	}
	return cmd
}
