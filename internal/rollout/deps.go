package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// Deps holds the collaborators and tunables shared by the rollout and
// rollback workflows.
type Deps struct {
	Environments domain.EnvironmentRepository
	Checkpoints  domain.CheckpointRepository
	Fleet        domain.ComputeFleet
	Router       domain.TrafficRouter
	Prober       domain.HealthProber
	Clock        domain.Clock
	Logger       *slog.Logger

	Probe           domain.ProbeSpec
	LeaseTTL        time.Duration
	CheckpointGrace time.Duration
	InitialPoolSize int
}

func (d *Deps) clock() domain.Clock {
	if d.Clock != nil {
		return d.Clock
	}
	return domain.SystemClock()
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Deps) leaseTTL() time.Duration {
	if d.LeaseTTL > 0 {
		return d.LeaseTTL
	}
	return 30 * time.Minute
}

func (d *Deps) checkpointGrace() time.Duration {
	if d.CheckpointGrace > 0 {
		return d.CheckpointGrace
	}
	return time.Hour
}

func (d *Deps) initialPoolSize() int {
	if d.InitialPoolSize > 0 {
		return d.InitialPoolSize
	}
	return 2
}

func (d *Deps) probeSpec() domain.ProbeSpec {
	spec := d.Probe
	if spec.Path == "" {
		spec.Path = "/health"
	}
	if spec.ExpectedCode == 0 {
		spec.ExpectedCode = 200
	}
	if spec.Interval <= 0 {
		spec.Interval = 2 * time.Second
	}
	if spec.Timeout <= 0 {
		spec.Timeout = 2 * time.Minute
	}
	if spec.ConsecutiveSuccesses <= 0 {
		spec.ConsecutiveSuccesses = 2
	}
	return spec
}

// launchAndAttach launches count instances at version and attaches them to
// the tier's serving pool. On attach failure the launched instances are
// terminated so nothing leaks outside the pool.
func (d *Deps) launchAndAttach(ctx context.Context, tier domain.Tier, version string, count int) ([]domain.InstanceRef, error) {
	refs, err := d.Fleet.LaunchInstances(ctx, version, count)
	if err != nil {
		return nil, fmt.Errorf("launch %d instances at %s: %w", count, version, err)
	}
	for _, ref := range refs {
		if err := d.Router.AttachToPool(ctx, tier, ref); err != nil {
			_ = d.Fleet.TerminateInstances(ctx, refs)
			return nil, fmt.Errorf("attach %s to %s pool: %w", ref.ID, tier, err)
		}
	}
	return refs, nil
}

// detachAndTerminate removes instances from the serving pool and
// terminates them.
func (d *Deps) detachAndTerminate(ctx context.Context, tier domain.Tier, refs []domain.InstanceRef) error {
	for _, ref := range refs {
		if err := d.Router.DetachFromPool(ctx, tier, ref); err != nil {
			return fmt.Errorf("detach %s from %s pool: %w", ref.ID, tier, err)
		}
	}
	if err := d.Fleet.TerminateInstances(ctx, refs); err != nil {
		return fmt.Errorf("terminate %d instances: %w", len(refs), err)
	}
	return nil
}

// swapPoolMembers atomically replaces old with new in the stored pool.
func (d *Deps) swapPoolMembers(ctx context.Context, tier domain.Tier, retire, add []domain.InstanceRef) (domain.Environment, error) {
	env, err := d.Environments.Get(ctx, tier)
	if err != nil {
		return domain.Environment{}, err
	}
	retired := make(map[domain.InstanceID]bool, len(retire))
	for _, ref := range retire {
		retired[ref.ID] = true
	}
	pool := make([]domain.InstanceRef, 0, len(env.Instances)+len(add))
	for _, ref := range env.Instances {
		if !retired[ref.ID] {
			pool = append(pool, ref)
		}
	}
	pool = append(pool, add...)
	env.Instances = pool
	if err := d.Environments.Update(ctx, env); err != nil {
		return domain.Environment{}, fmt.Errorf("update %s pool: %w", tier, err)
	}
	return env, nil
}

// healthyRefs marks the probed instances healthy, in report order. Callers
// use it only after HealthReport.AllHealthy.
func healthyRefs(report domain.HealthReport) []domain.InstanceRef {
	refs := make([]domain.InstanceRef, len(report.Results))
	for i, res := range report.Results {
		ref := res.Instance
		ref.HealthState = res.State
		refs[i] = ref
	}
	return refs
}

// revert drives the batched replacement back to a checkpoint: every pool
// member not at the checkpoint version is replaced, the pool is resized to
// the checkpointed count, and the whole pool is re-probed to confirm the
// reversion. No new checkpoint is created, and the consumed checkpoint is
// deleted on success.
func (d *Deps) revert(ctx context.Context, cp domain.Checkpoint, holder domain.RolloutID) (domain.RollbackResult, error) {
	res := domain.RollbackResult{Tier: cp.Tier, CheckpointID: cp.ID, RestoredVersion: cp.Version}
	log := d.logger().With("tier", cp.Tier, "checkpoint", cp.ID, "version", cp.Version)

	env, err := d.Environments.Get(ctx, cp.Tier)
	if err != nil {
		return res, err
	}
	res.PoolSize = len(env.Instances)

	var stale []domain.InstanceRef
	for _, ref := range env.Instances {
		if ref.LaunchVersion != cp.Version {
			stale = append(stale, ref)
		}
	}

	batches, err := domain.PlanBatches(stale, env.MinHealthyFraction)
	if err != nil {
		return res, err
	}
	log.Info("reverting to checkpoint", "stale", len(stale), "batches", len(batches))

	for i, batch := range batches {
		replacements, err := d.launchAndAttach(ctx, cp.Tier, cp.Version, len(batch))
		if err != nil {
			res.Reason = err.Error()
			return res, fmt.Errorf("revert batch %d of %d: %w", i+1, len(batches), err)
		}
		report := d.Prober.Probe(ctx, replacements, d.probeSpec())
		if !report.AllHealthy() {
			res.Reason = fmt.Sprintf("revert batch %d of %d never became healthy", i+1, len(batches))
			return res, fmt.Errorf("%s", res.Reason)
		}
		if err := d.detachAndTerminate(ctx, cp.Tier, batch); err != nil {
			res.Reason = err.Error()
			return res, fmt.Errorf("revert batch %d of %d: %w", i+1, len(batches), err)
		}
		env, err = d.swapPoolMembers(ctx, cp.Tier, batch, healthyRefs(report))
		if err != nil {
			res.Reason = err.Error()
			return res, err
		}
		res.PoolSize = len(env.Instances)
		if err := d.Environments.RefreshLease(ctx, cp.Tier, holder, d.leaseTTL()); err != nil {
			return res, err
		}
		log.Info("reverted batch", "batch", i+1, "of", len(batches))
	}

	// Restore the checkpointed pool size: a failed rollout can leave the
	// pool larger (replacements probed but not yet retired) or smaller
	// than the snapshot.
	if deficit := len(cp.Instances) - len(env.Instances); deficit > 0 {
		extra, err := d.launchAndAttach(ctx, cp.Tier, cp.Version, deficit)
		if err != nil {
			res.Reason = err.Error()
			return res, err
		}
		report := d.Prober.Probe(ctx, extra, d.probeSpec())
		env, err = d.swapPoolMembers(ctx, cp.Tier, nil, healthyRefs(report))
		if err != nil {
			res.Reason = err.Error()
			return res, err
		}
	} else if deficit < 0 {
		surplus := env.Instances[len(cp.Instances):]
		if err := d.detachAndTerminate(ctx, cp.Tier, surplus); err != nil {
			res.Reason = err.Error()
			return res, err
		}
		env, err = d.swapPoolMembers(ctx, cp.Tier, surplus, nil)
		if err != nil {
			res.Reason = err.Error()
			return res, err
		}
	}

	env.CurrentVersion = cp.Version
	env.DesiredVersion = cp.Version
	if err := d.Environments.Update(ctx, env); err != nil {
		return res, fmt.Errorf("restore %s version: %w", cp.Tier, err)
	}

	confirm := d.Prober.Probe(ctx, env.Instances, d.probeSpec())
	env, err = d.swapPoolMembers(ctx, cp.Tier, env.Instances, healthyRefs(confirm))
	if err != nil {
		return res, err
	}
	res.PoolSize = len(env.Instances)
	res.Healthy = confirm.AllHealthy()
	if !res.Healthy {
		res.Reason = fmt.Sprintf("%d instances unhealthy after reversion", len(confirm.Unhealthy()))
	}

	if err := d.Checkpoints.Delete(ctx, cp.ID); err != nil {
		log.Warn("delete consumed checkpoint", "error", err)
	}
	log.Info("reversion complete", "pool", res.PoolSize, "healthy", res.Healthy)
	return res, nil
}
