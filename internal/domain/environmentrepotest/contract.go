// Package environmentrepotest provides contract tests for
// [domain.EnvironmentRepository] implementations.
package environmentrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// Factory creates a fresh [domain.EnvironmentRepository] for each test
// invocation. Implementations should read time from now so lease expiry
// can be tested without sleeping.
type Factory func(t *testing.T, now func() time.Time) domain.EnvironmentRepository

// Run exercises the [domain.EnvironmentRepository] contract, including
// the lease semantics the rollout workflows depend on.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	fixedNow := func() time.Time { return base }

	newEnv := func(tier domain.Tier) domain.Environment {
		return domain.Environment{
			Tier:               tier,
			CurrentVersion:     "1.0.0",
			DesiredVersion:     "1.0.0",
			MinHealthyFraction: 0.5,
			Instances: []domain.InstanceRef{
				{ID: "i-1", Address: "127.0.0.1:9001", HealthState: domain.HealthHealthy, LaunchVersion: "1.0.0"},
				{ID: "i-2", Address: "127.0.0.1:9002", HealthState: domain.HealthHealthy, LaunchVersion: "1.0.0"},
			},
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t, fixedNow)
		ctx := context.Background()

		if err := repo.Create(ctx, newEnv(domain.TierStaging)); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, domain.TierStaging)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.CurrentVersion != "1.0.0" {
			t.Errorf("CurrentVersion = %q, want %q", got.CurrentVersion, "1.0.0")
		}
		if len(got.Instances) != 2 {
			t.Fatalf("Instances: got %d, want 2", len(got.Instances))
		}
		if got.Instances[0].Address != "127.0.0.1:9001" {
			t.Errorf("Instances[0].Address = %q", got.Instances[0].Address)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t, fixedNow)
		ctx := context.Background()

		if err := repo.Create(ctx, newEnv(domain.TierDev)); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, newEnv(domain.TierDev))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t, fixedNow)
		_, err := repo.Get(context.Background(), domain.TierProd)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t, fixedNow)
		ctx := context.Background()

		for _, tier := range []domain.Tier{domain.TierDev, domain.TierStaging} {
			if err := repo.Create(ctx, newEnv(tier)); err != nil {
				t.Fatalf("Create %s: %v", tier, err)
			}
		}

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
	})

	t.Run("UpdatePersistsPoolAndVersions", func(t *testing.T) {
		repo := factory(t, fixedNow)
		ctx := context.Background()

		if err := repo.Create(ctx, newEnv(domain.TierStaging)); err != nil {
			t.Fatal(err)
		}

		env, _ := repo.Get(ctx, domain.TierStaging)
		env.CurrentVersion = "1.1.0"
		env.DesiredVersion = "1.1.0"
		env.Instances = env.Instances[:1]
		env.LastDeployedAt = base

		if err := repo.Update(ctx, env); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.Get(ctx, domain.TierStaging)
		if err != nil {
			t.Fatal(err)
		}
		if got.CurrentVersion != "1.1.0" {
			t.Errorf("CurrentVersion = %q, want %q", got.CurrentVersion, "1.1.0")
		}
		if len(got.Instances) != 1 {
			t.Errorf("Instances: got %d, want 1", len(got.Instances))
		}
		if !got.LastDeployedAt.Equal(base) {
			t.Errorf("LastDeployedAt = %v, want %v", got.LastDeployedAt, base)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t, fixedNow)
		err := repo.Update(context.Background(), newEnv(domain.TierProd))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("LeaseExcludesSecondHolder", func(t *testing.T) {
		repo := factory(t, fixedNow)
		ctx := context.Background()

		if err := repo.Create(ctx, newEnv(domain.TierStaging)); err != nil {
			t.Fatal(err)
		}
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-1", 30*time.Minute); err != nil {
			t.Fatalf("AcquireLease r-1: %v", err)
		}

		err := repo.AcquireLease(ctx, domain.TierStaging, "r-2", 30*time.Minute)
		if !errors.Is(err, domain.ErrLocked) {
			t.Fatalf("AcquireLease r-2: got %v, want ErrLocked", err)
		}
	})

	t.Run("LeaseReacquireBySameHolder", func(t *testing.T) {
		repo := factory(t, fixedNow)
		ctx := context.Background()

		if err := repo.Create(ctx, newEnv(domain.TierStaging)); err != nil {
			t.Fatal(err)
		}
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-1", 30*time.Minute); err != nil {
			t.Fatal(err)
		}
		// Activity retries re-run acquire with the same holder.
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-1", 30*time.Minute); err != nil {
			t.Fatalf("reacquire: %v", err)
		}
	})

	t.Run("LeaseReleaseFreesTier", func(t *testing.T) {
		repo := factory(t, fixedNow)
		ctx := context.Background()

		if err := repo.Create(ctx, newEnv(domain.TierStaging)); err != nil {
			t.Fatal(err)
		}
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-1", 30*time.Minute); err != nil {
			t.Fatal(err)
		}
		if err := repo.ReleaseLease(ctx, domain.TierStaging, "r-1"); err != nil {
			t.Fatalf("ReleaseLease: %v", err)
		}
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-2", 30*time.Minute); err != nil {
			t.Fatalf("AcquireLease after release: %v", err)
		}
	})

	t.Run("ExpiredLeaseIsTakenOver", func(t *testing.T) {
		now := base
		repo := factory(t, func() time.Time { return now })
		ctx := context.Background()

		if err := repo.Create(ctx, newEnv(domain.TierStaging)); err != nil {
			t.Fatal(err)
		}
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-dead", 30*time.Minute); err != nil {
			t.Fatal(err)
		}

		now = base.Add(31 * time.Minute)
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-new", 30*time.Minute); err != nil {
			t.Fatalf("takeover after expiry: %v", err)
		}

		// The dead holder's release must not clobber the new lease.
		if err := repo.ReleaseLease(ctx, domain.TierStaging, "r-dead"); err != nil {
			t.Fatalf("stale release: %v", err)
		}
		err := repo.AcquireLease(ctx, domain.TierStaging, "r-other", 30*time.Minute)
		if !errors.Is(err, domain.ErrLocked) {
			t.Fatalf("lease after stale release: got %v, want ErrLocked", err)
		}
	})

	t.Run("RefreshLostLease", func(t *testing.T) {
		now := base
		repo := factory(t, func() time.Time { return now })
		ctx := context.Background()

		if err := repo.Create(ctx, newEnv(domain.TierStaging)); err != nil {
			t.Fatal(err)
		}
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-dead", time.Minute); err != nil {
			t.Fatal(err)
		}
		now = base.Add(2 * time.Minute)
		if err := repo.AcquireLease(ctx, domain.TierStaging, "r-new", 30*time.Minute); err != nil {
			t.Fatal(err)
		}

		err := repo.RefreshLease(ctx, domain.TierStaging, "r-dead", time.Minute)
		if !errors.Is(err, domain.ErrLocked) {
			t.Fatalf("RefreshLease: got %v, want ErrLocked", err)
		}
	})

	t.Run("LeaseOnMissingTier", func(t *testing.T) {
		repo := factory(t, fixedNow)
		err := repo.AcquireLease(context.Background(), domain.TierProd, "r-1", time.Minute)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("AcquireLease: got %v, want ErrNotFound", err)
		}
	})
}
