package rollout

import (
	"context"
	"fmt"

	"github.com/helmgate/helmgate/internal/domain"

	"github.com/google/uuid"
)

// RolloutWorkflow drives one environment through a health-gated rolling
// replacement: acquire the tier lease, snapshot a checkpoint, replace the
// pool batch by batch gated on the prober, then commit the new version.
// Any batch that fails to converge aborts the remaining batches and
// reverts to the checkpoint. The lease is released on every terminal
// path; that is the workflow's core invariant.
//
// The body is deterministic: all I/O and time reads happen in activities
// so a durable engine can replay it.
type RolloutWorkflow struct {
	Deps
}

func (w *RolloutWorkflow) Name() string { return "rollout" }

// LeaseInput addresses the tier lease held by one rollout.
type LeaseInput struct {
	Tier   domain.Tier     `json:"tier"`
	Holder domain.RolloutID `json:"holder"`
}

// LaunchInput launches one batch of replacement instances.
type LaunchInput struct {
	Tier    domain.Tier `json:"tier"`
	Version string      `json:"version"`
	Count   int         `json:"count"`
	Batch   int         `json:"batch"`
	Total   int         `json:"total"`
}

// ProbeInput probes one batch of replacements.
type ProbeInput struct {
	Tier  domain.Tier          `json:"tier"`
	Refs  []domain.InstanceRef `json:"refs"`
	Batch int                  `json:"batch"`
	Total int                  `json:"total"`
}

// RetireInput retires an old batch in favor of its healthy replacements.
type RetireInput struct {
	Tier   domain.Tier          `json:"tier"`
	Holder domain.RolloutID     `json:"holder"`
	Old    []domain.InstanceRef `json:"old"`
	New    []domain.InstanceRef `json:"new"`
	Batch  int                  `json:"batch"`
	Total  int                  `json:"total"`
}

// CommitInput finalizes a successful rollout.
type CommitInput struct {
	Tier         domain.Tier      `json:"tier"`
	Holder       domain.RolloutID `json:"holder"`
	Version      string           `json:"version"`
	CheckpointID string           `json:"checkpoint_id"`
}

// AbortInput reverts a failing rollout to its checkpoint.
type AbortInput struct {
	Tier               domain.Tier          `json:"tier"`
	Holder             domain.RolloutID     `json:"holder"`
	Checkpoint         domain.Checkpoint    `json:"checkpoint"`
	FailedReplacements []domain.InstanceRef `json:"failed_replacements"`
	Reason             string               `json:"reason"`
}

func (w *RolloutWorkflow) LoadEnvironment() domain.Activity[domain.Tier, domain.Environment] {
	return domain.NewActivity("load-environment", func(ctx context.Context, tier domain.Tier) (domain.Environment, error) {
		return w.Environments.Get(ctx, tier)
	})
}

func (w *RolloutWorkflow) AcquireLease() domain.Activity[LeaseInput, struct{}] {
	return domain.NewActivity("acquire-lease", func(ctx context.Context, in LeaseInput) (struct{}, error) {
		if err := w.Environments.AcquireLease(ctx, in.Tier, in.Holder, w.leaseTTL()); err != nil {
			return struct{}{}, err
		}
		w.logger().Info("lease acquired", "tier", in.Tier, "rollout", in.Holder)
		return struct{}{}, nil
	})
}

func (w *RolloutWorkflow) RecordCheckpoint() domain.Activity[LeaseInput, domain.Checkpoint] {
	return domain.NewActivity("record-checkpoint", func(ctx context.Context, in LeaseInput) (domain.Checkpoint, error) {
		env, err := w.Environments.Get(ctx, in.Tier)
		if err != nil {
			return domain.Checkpoint{}, err
		}
		cp := domain.Checkpoint{
			ID:        uuid.NewString(),
			Tier:      env.Tier,
			Version:   env.CurrentVersion,
			Instances: env.Instances,
			CreatedAt: w.clock().Now(),
		}
		if err := w.Checkpoints.Put(ctx, cp); err != nil {
			return domain.Checkpoint{}, fmt.Errorf("record checkpoint: %w", err)
		}
		w.logger().Info("checkpoint recorded", "tier", in.Tier, "checkpoint", cp.ID, "version", cp.Version, "pool", len(cp.Instances))
		return cp, nil
	})
}

func (w *RolloutWorkflow) LaunchBatch() domain.Activity[LaunchInput, []domain.InstanceRef] {
	return domain.NewActivity("launch-batch", func(ctx context.Context, in LaunchInput) ([]domain.InstanceRef, error) {
		w.logger().Info("launching replacements", "tier", in.Tier, "version", in.Version, "count", in.Count, "batch", in.Batch, "of", in.Total)
		return w.launchAndAttach(ctx, in.Tier, in.Version, in.Count)
	})
}

func (w *RolloutWorkflow) ProbeBatch() domain.Activity[ProbeInput, domain.HealthReport] {
	return domain.NewActivity("probe-batch", func(ctx context.Context, in ProbeInput) (domain.HealthReport, error) {
		report := w.Prober.Probe(ctx, in.Refs, w.probeSpec())
		w.logger().Info("batch probed", "tier", in.Tier, "batch", in.Batch, "of", in.Total, "healthy", report.AllHealthy())
		return report, ctx.Err()
	})
}

func (w *RolloutWorkflow) RetireBatch() domain.Activity[RetireInput, domain.Environment] {
	return domain.NewActivity("retire-batch", func(ctx context.Context, in RetireInput) (domain.Environment, error) {
		if len(in.Old) > 0 {
			if err := w.detachAndTerminate(ctx, in.Tier, in.Old); err != nil {
				return domain.Environment{}, err
			}
		}
		env, err := w.swapPoolMembers(ctx, in.Tier, in.Old, in.New)
		if err != nil {
			return domain.Environment{}, err
		}
		if err := w.Environments.RefreshLease(ctx, in.Tier, in.Holder, w.leaseTTL()); err != nil {
			return domain.Environment{}, err
		}
		w.logger().Info("batch retired", "tier", in.Tier, "batch", in.Batch, "of", in.Total, "pool", len(env.Instances))
		return env, nil
	})
}

func (w *RolloutWorkflow) CommitVersion() domain.Activity[CommitInput, struct{}] {
	return domain.NewActivity("commit-version", func(ctx context.Context, in CommitInput) (struct{}, error) {
		env, err := w.Environments.Get(ctx, in.Tier)
		if err != nil {
			return struct{}{}, err
		}
		env.CurrentVersion = in.Version
		env.DesiredVersion = in.Version
		env.LastDeployedAt = w.clock().Now()
		if err := w.Environments.Update(ctx, env); err != nil {
			return struct{}{}, fmt.Errorf("commit version %s: %w", in.Version, err)
		}

		// The fresh checkpoint stays for the manual-rollback window; only
		// checkpoints superseded longer ago than the grace period go.
		cutoff := w.clock().Now().Add(-w.checkpointGrace())
		if n, err := w.Checkpoints.PruneSuperseded(ctx, in.Tier, in.CheckpointID, cutoff); err != nil {
			w.logger().Warn("prune superseded checkpoints", "tier", in.Tier, "error", err)
		} else if n > 0 {
			w.logger().Info("pruned superseded checkpoints", "tier", in.Tier, "count", n)
		}
		return struct{}{}, nil
	})
}

// AbortToCheckpoint cleans up the failed replacements and reverts the
// pool. It runs detached from the caller's cancellation: an operator
// abort must still roll back, never abandon the environment mid-flight.
func (w *RolloutWorkflow) AbortToCheckpoint() domain.Activity[AbortInput, domain.RollbackResult] {
	return domain.NewActivity("abort-to-checkpoint", func(ctx context.Context, in AbortInput) (domain.RollbackResult, error) {
		ctx = context.WithoutCancel(ctx)
		w.logger().Warn("aborting rollout", "tier", in.Tier, "rollout", in.Holder, "reason", in.Reason)
		if len(in.FailedReplacements) > 0 {
			if err := w.detachAndTerminate(ctx, in.Tier, in.FailedReplacements); err != nil {
				w.logger().Warn("terminate failed replacements", "tier", in.Tier, "error", err)
			}
		}
		return w.revert(ctx, in.Checkpoint, in.Holder)
	})
}

func (w *RolloutWorkflow) ReleaseLease() domain.Activity[LeaseInput, struct{}] {
	return domain.NewActivity("release-lease", func(ctx context.Context, in LeaseInput) (struct{}, error) {
		ctx = context.WithoutCancel(ctx)
		if err := w.Environments.ReleaseLease(ctx, in.Tier, in.Holder); err != nil {
			return struct{}{}, err
		}
		w.logger().Info("lease released", "tier", in.Tier, "rollout", in.Holder)
		return struct{}{}, nil
	})
}

// Run is the workflow body.
func (w *RolloutWorkflow) Run(r domain.DurableRunner, req domain.RolloutRequest) (domain.RolloutResult, error) {
	res := domain.RolloutResult{
		RolloutID: req.RolloutID,
		Tier:      req.Tier,
		ToVersion: req.TargetVersion,
	}
	if req.TargetVersion == "" {
		return res, fmt.Errorf("%w: target version is required", domain.ErrInvalidArgument)
	}
	if req.MinHealthyFraction < 0 || req.MinHealthyFraction > 1 {
		return res, fmt.Errorf("%w: min healthy fraction %v not in (0,1]", domain.ErrInvalidArgument, req.MinHealthyFraction)
	}

	env, err := domain.RunActivity(r, w.LoadEnvironment(), req.Tier)
	if err != nil {
		return res, err
	}
	res.FromVersion = env.CurrentVersion

	fraction := env.MinHealthyFraction
	if req.MinHealthyFraction > 0 {
		fraction = req.MinHealthyFraction
	}

	if !req.Reapply && env.CurrentVersion == req.TargetVersion && env.FullyHealthy() {
		res.Outcome = domain.OutcomeNoop
		res.Reason = "already at target version with a fully healthy pool"
		return res, nil
	}

	lease := LeaseInput{Tier: req.Tier, Holder: req.RolloutID}
	if _, err := domain.RunActivity(r, w.AcquireLease(), lease); err != nil {
		return res, err
	}

	cp, err := domain.RunActivity(r, w.RecordCheckpoint(), lease)
	if err != nil {
		_, _ = domain.RunActivity(r, w.ReleaseLease(), lease)
		return res, err
	}

	// An empty pool means initial provisioning: one batch of fresh
	// instances, nothing to retire.
	old, err := domain.PlanBatches(env.Instances, fraction)
	if err != nil {
		_, _ = domain.RunActivity(r, w.ReleaseLease(), lease)
		return res, err
	}
	counts := make([]int, len(old))
	for i, b := range old {
		counts[i] = len(b)
	}
	if len(old) == 0 {
		old = [][]domain.InstanceRef{nil}
		counts = []int{w.initialPoolSize()}
	}
	res.BatchesTotal = len(counts)

	for i := range counts {
		batchNo := i + 1
		replacements, err := domain.RunActivity(r, w.LaunchBatch(), LaunchInput{
			Tier: req.Tier, Version: req.TargetVersion, Count: counts[i], Batch: batchNo, Total: res.BatchesTotal,
		})
		if err != nil {
			return w.abort(r, res, lease, cp, nil, batchNo, err)
		}

		report, err := domain.RunActivity(r, w.ProbeBatch(), ProbeInput{
			Tier: req.Tier, Refs: replacements, Batch: batchNo, Total: res.BatchesTotal,
		})
		if err != nil {
			return w.abort(r, res, lease, cp, replacements, batchNo, fmt.Errorf("probe cancelled: %w", err))
		}
		if !report.AllHealthy() {
			return w.abort(r, res, lease, cp, replacements, batchNo,
				fmt.Errorf("%d of %d replacements never became healthy", len(report.Unhealthy()), len(report.Results)))
		}

		if _, err := domain.RunActivity(r, w.RetireBatch(), RetireInput{
			Tier: req.Tier, Holder: req.RolloutID, Old: old[i], New: healthyRefs(report), Batch: batchNo, Total: res.BatchesTotal,
		}); err != nil {
			return w.abort(r, res, lease, cp, nil, batchNo, err)
		}
		res.BatchesDone = batchNo
	}

	if _, err := domain.RunActivity(r, w.CommitVersion(), CommitInput{
		Tier: req.Tier, Holder: req.RolloutID, Version: req.TargetVersion, CheckpointID: cp.ID,
	}); err != nil {
		return w.abort(r, res, lease, cp, nil, res.BatchesDone, err)
	}

	_, relErr := domain.RunActivity(r, w.ReleaseLease(), lease)
	res.Outcome = domain.OutcomeSucceeded
	return res, relErr
}

// abort reverts to the checkpoint and releases the lease. The failure is
// carried in the result, not as a workflow error, so partial outcomes
// (rolled back, rollback degraded) stay representable.
func (w *RolloutWorkflow) abort(
	r domain.DurableRunner,
	res domain.RolloutResult,
	lease LeaseInput,
	cp domain.Checkpoint,
	failed []domain.InstanceRef,
	batch int,
	cause error,
) (domain.RolloutResult, error) {
	res.Outcome = domain.OutcomeRolledBack
	res.FailedBatch = batch
	res.Reason = cause.Error()

	rb, rbErr := domain.RunActivity(r, w.AbortToCheckpoint(), AbortInput{
		Tier: lease.Tier, Holder: lease.Holder, Checkpoint: cp, FailedReplacements: failed, Reason: cause.Error(),
	})
	if rbErr != nil {
		res.Reason = fmt.Sprintf("%s; rollback degraded: %s", res.Reason, rbErr.Error())
	} else {
		res.Rollback = &rb
	}

	_, _ = domain.RunActivity(r, w.ReleaseLease(), lease)
	return res, nil
}
