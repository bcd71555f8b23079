// Package checkpointrepotest provides contract tests for
// [domain.CheckpointRepository] implementations.
package checkpointrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// Factory creates a fresh [domain.CheckpointRepository] for each test
// invocation.
type Factory func(t *testing.T) domain.CheckpointRepository

// Run exercises the [domain.CheckpointRepository] contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	newCheckpoint := func(id string, tier domain.Tier, version string, at time.Time) domain.Checkpoint {
		return domain.Checkpoint{
			ID:      id,
			Tier:    tier,
			Version: version,
			Instances: []domain.InstanceRef{
				{ID: "i-1", Address: "127.0.0.1:9001", HealthState: domain.HealthHealthy, LaunchVersion: version},
			},
			CreatedAt: at,
		}
	}

	t.Run("PutAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		cp := newCheckpoint("cp-1", domain.TierStaging, "1.0.0", base)
		if err := repo.Put(ctx, cp); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := repo.Get(ctx, "cp-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Version != "1.0.0" {
			t.Errorf("Version = %q, want %q", got.Version, "1.0.0")
		}
		if got.Tier != domain.TierStaging {
			t.Errorf("Tier = %q, want %q", got.Tier, domain.TierStaging)
		}
		if len(got.Instances) != 1 {
			t.Fatalf("Instances: got %d, want 1", len(got.Instances))
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("LatestPicksNewest", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Put(ctx, newCheckpoint("cp-old", domain.TierStaging, "1.0.0", base)); err != nil {
			t.Fatal(err)
		}
		if err := repo.Put(ctx, newCheckpoint("cp-new", domain.TierStaging, "1.1.0", base.Add(time.Hour))); err != nil {
			t.Fatal(err)
		}
		if err := repo.Put(ctx, newCheckpoint("cp-other-tier", domain.TierProd, "2.0.0", base.Add(2*time.Hour))); err != nil {
			t.Fatal(err)
		}

		got, err := repo.Latest(ctx, domain.TierStaging)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if got.ID != "cp-new" {
			t.Errorf("Latest ID = %q, want %q", got.ID, "cp-new")
		}
	})

	t.Run("LatestNone", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Latest(context.Background(), domain.TierDev)
		if !errors.Is(err, domain.ErrNoCheckpoint) {
			t.Fatalf("Latest: got %v, want ErrNoCheckpoint", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Put(ctx, newCheckpoint("cp-1", domain.TierStaging, "1.0.0", base)); err != nil {
			t.Fatal(err)
		}
		if err := repo.Delete(ctx, "cp-1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := repo.Get(ctx, "cp-1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("PruneSupersededKeepsCurrentAndRecent", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Put(ctx, newCheckpoint("cp-stale", domain.TierStaging, "0.9.0", base.Add(-2*time.Hour))); err != nil {
			t.Fatal(err)
		}
		if err := repo.Put(ctx, newCheckpoint("cp-recent", domain.TierStaging, "1.0.0", base.Add(-10*time.Minute))); err != nil {
			t.Fatal(err)
		}
		if err := repo.Put(ctx, newCheckpoint("cp-current", domain.TierStaging, "1.1.0", base.Add(-3*time.Hour))); err != nil {
			t.Fatal(err)
		}
		if err := repo.Put(ctx, newCheckpoint("cp-prod", domain.TierProd, "1.0.0", base.Add(-3*time.Hour))); err != nil {
			t.Fatal(err)
		}

		cutoff := base.Add(-time.Hour)
		n, err := repo.PruneSuperseded(ctx, domain.TierStaging, "cp-current", cutoff)
		if err != nil {
			t.Fatalf("PruneSuperseded: %v", err)
		}
		if n != 1 {
			t.Errorf("pruned %d, want 1", n)
		}

		if _, err := repo.Get(ctx, "cp-stale"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("cp-stale survived prune: %v", err)
		}
		for _, id := range []string{"cp-recent", "cp-current", "cp-prod"} {
			if _, err := repo.Get(ctx, id); err != nil {
				t.Errorf("Get %s after prune: %v", id, err)
			}
		}
	})
}
