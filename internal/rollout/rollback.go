package rollout

import (
	"context"
	"errors"
	"fmt"

	"github.com/helmgate/helmgate/internal/domain"
)

// RollbackWorkflow reverts an environment to a retained checkpoint as a
// standalone operation (operator-invoked, as opposed to the automatic
// reversion inside a failing rollout). It acquires its own lease, drives
// the shared batched-replacement core, and creates no new checkpoint so
// repeated rollbacks cannot grow checkpoint chains.
type RollbackWorkflow struct {
	Deps
}

func (w *RollbackWorkflow) Name() string { return "rollback" }

// LoadInput selects the checkpoint to revert to.
type LoadInput struct {
	Tier         domain.Tier `json:"tier"`
	CheckpointID string      `json:"checkpoint_id"` // empty means latest
}

// RevertInput drives the reversion under an already-held lease.
type RevertInput struct {
	Checkpoint domain.Checkpoint `json:"checkpoint"`
	Holder     domain.RolloutID  `json:"holder"`
}

func (w *RollbackWorkflow) LoadCheckpoint() domain.Activity[LoadInput, domain.Checkpoint] {
	return domain.NewActivity("load-checkpoint", func(ctx context.Context, in LoadInput) (domain.Checkpoint, error) {
		if in.CheckpointID != "" {
			cp, err := w.Checkpoints.Get(ctx, in.CheckpointID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.Checkpoint{}, fmt.Errorf("checkpoint %q: %w", in.CheckpointID, domain.ErrNoCheckpoint)
				}
				return domain.Checkpoint{}, err
			}
			if cp.Tier != in.Tier {
				return domain.Checkpoint{}, fmt.Errorf("%w: checkpoint %q belongs to tier %s", domain.ErrInvalidArgument, in.CheckpointID, cp.Tier)
			}
			return cp, nil
		}
		return w.Checkpoints.Latest(ctx, in.Tier)
	})
}

func (w *RollbackWorkflow) AcquireLease() domain.Activity[LeaseInput, struct{}] {
	return domain.NewActivity("rollback-acquire-lease", func(ctx context.Context, in LeaseInput) (struct{}, error) {
		if err := w.Environments.AcquireLease(ctx, in.Tier, in.Holder, w.leaseTTL()); err != nil {
			return struct{}{}, err
		}
		w.logger().Info("lease acquired", "tier", in.Tier, "rollback", in.Holder)
		return struct{}{}, nil
	})
}

func (w *RollbackWorkflow) RevertToCheckpoint() domain.Activity[RevertInput, domain.RollbackResult] {
	return domain.NewActivity("revert-to-checkpoint", func(ctx context.Context, in RevertInput) (domain.RollbackResult, error) {
		return w.revert(context.WithoutCancel(ctx), in.Checkpoint, in.Holder)
	})
}

func (w *RollbackWorkflow) ReleaseLease() domain.Activity[LeaseInput, struct{}] {
	return domain.NewActivity("rollback-release-lease", func(ctx context.Context, in LeaseInput) (struct{}, error) {
		ctx = context.WithoutCancel(ctx)
		if err := w.Environments.ReleaseLease(ctx, in.Tier, in.Holder); err != nil {
			return struct{}{}, err
		}
		w.logger().Info("lease released", "tier", in.Tier, "rollback", in.Holder)
		return struct{}{}, nil
	})
}

// Run is the workflow body.
func (w *RollbackWorkflow) Run(r domain.DurableRunner, req domain.RollbackRequest) (domain.RollbackResult, error) {
	cp, err := domain.RunActivity(r, w.LoadCheckpoint(), LoadInput{Tier: req.Tier, CheckpointID: req.CheckpointID})
	if err != nil {
		return domain.RollbackResult{Tier: req.Tier}, err
	}

	lease := LeaseInput{Tier: req.Tier, Holder: req.RollbackID}
	if _, err := domain.RunActivity(r, w.AcquireLease(), lease); err != nil {
		return domain.RollbackResult{Tier: req.Tier, CheckpointID: cp.ID}, err
	}

	res, revertErr := domain.RunActivity(r, w.RevertToCheckpoint(), RevertInput{Checkpoint: cp, Holder: req.RollbackID})
	if revertErr != nil {
		res = domain.RollbackResult{Tier: req.Tier, CheckpointID: cp.ID, RestoredVersion: cp.Version, Reason: revertErr.Error()}
	}

	_, _ = domain.RunActivity(r, w.ReleaseLease(), lease)
	return res, revertErr
}
