// Package escalationrunrepotest provides contract tests for
// [domain.EscalationRunRepository] implementations.
package escalationrunrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// Factory creates a fresh [domain.EscalationRunRepository] for each test
// invocation.
type Factory func(t *testing.T) domain.EscalationRunRepository

// Run exercises the [domain.EscalationRunRepository] contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	newRun := func(id, alarm string, startedAt time.Time) domain.EscalationRun {
		return domain.EscalationRun{
			ID:        id,
			AlarmName: alarm,
			Severity:  domain.SeverityCritical,
			Reason:    "error rate above threshold",
			Policy: domain.EscalationPolicy{
				Severity:           domain.SeverityCritical,
				InitialDelay:       5 * time.Minute,
				EscalationInterval: 15 * time.Minute,
				MaxEscalations:     3,
				Channels:           []domain.ChannelRef{"oncall-primary", "oncall-secondary"},
			},
			StartedAt: startedAt,
			NextDueAt: startedAt.Add(5 * time.Minute),
			State:     domain.RunActive,
		}
	}

	t.Run("CreateAndActiveByAlarm", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newRun("run-1", "high-error-rate", base)); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.ActiveByAlarm(ctx, "high-error-rate")
		if err != nil {
			t.Fatalf("ActiveByAlarm: %v", err)
		}
		if got.ID != "run-1" {
			t.Errorf("ID = %q, want %q", got.ID, "run-1")
		}
		if got.Policy.MaxEscalations != 3 {
			t.Errorf("Policy.MaxEscalations = %d, want 3", got.Policy.MaxEscalations)
		}
		if !got.NextDueAt.Equal(base.Add(5 * time.Minute)) {
			t.Errorf("NextDueAt = %v", got.NextDueAt)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newRun("run-1", "a", base)); err != nil {
			t.Fatal(err)
		}
		err := repo.Create(ctx, newRun("run-1", "a", base))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("ActiveByAlarmNone", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.ActiveByAlarm(context.Background(), "quiet-alarm")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("ActiveByAlarm: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ResolvedRunIsNotActive", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		run := newRun("run-1", "high-error-rate", base)
		if err := repo.Create(ctx, run); err != nil {
			t.Fatal(err)
		}

		resolvedAt := base.Add(2 * time.Minute)
		run.State = domain.RunResolved
		run.ResolvedAt = &resolvedAt
		if err := repo.Update(ctx, run); err != nil {
			t.Fatalf("Update: %v", err)
		}

		_, err := repo.ActiveByAlarm(ctx, "high-error-rate")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("ActiveByAlarm after resolve: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateProgress", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		run := newRun("run-1", "high-error-rate", base)
		if err := repo.Create(ctx, run); err != nil {
			t.Fatal(err)
		}

		run.EscalationsSent = 2
		run.NextDueAt = base.Add(35 * time.Minute)
		if err := repo.Update(ctx, run); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.ActiveByAlarm(ctx, "high-error-rate")
		if err != nil {
			t.Fatal(err)
		}
		if got.EscalationsSent != 2 {
			t.Errorf("EscalationsSent = %d, want 2", got.EscalationsSent)
		}
		if !got.NextDueAt.Equal(base.Add(35 * time.Minute)) {
			t.Errorf("NextDueAt = %v", got.NextDueAt)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Update(context.Background(), newRun("missing", "a", base))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListActiveSkipsClosed", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		active := newRun("run-a", "alarm-a", base)
		exhausted := newRun("run-b", "alarm-b", base.Add(time.Minute))
		exhausted.State = domain.RunExhausted

		if err := repo.Create(ctx, active); err != nil {
			t.Fatal(err)
		}
		if err := repo.Create(ctx, exhausted); err != nil {
			t.Fatal(err)
		}

		got, err := repo.ListActive(ctx)
		if err != nil {
			t.Fatalf("ListActive: %v", err)
		}
		if len(got) != 1 || got[0].ID != "run-a" {
			t.Fatalf("ListActive = %+v, want only run-a", got)
		}
	})
}
