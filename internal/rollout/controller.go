package rollout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/helmgate/helmgate/internal/domain"

	"github.com/google/uuid"
)

// RolloutRunner starts and awaits rollout workflows.
type RolloutRunner interface {
	Run(ctx context.Context, req domain.RolloutRequest) (domain.WorkflowHandle[domain.RolloutResult], error)
}

// RollbackRunner starts and awaits rollback workflows.
type RollbackRunner interface {
	Run(ctx context.Context, req domain.RollbackRequest) (domain.WorkflowHandle[domain.RollbackResult], error)
}

// WorkflowEngine creates runners for the workflow types known to this
// package. Infrastructure packages provide engine-specific implementations.
type WorkflowEngine interface {
	RolloutRunner(wf *RolloutWorkflow) (RolloutRunner, error)
	RollbackRunner(wf *RollbackWorkflow) (RollbackRunner, error)
}

// Controller is the entry point for rollout, rollback, and steady-state
// reconciliation against one environment registry.
type Controller struct {
	Rollouts  RolloutRunner
	Rollbacks RollbackRunner
	Deps      *Deps
}

// New wires a controller onto a workflow engine.
func New(engine WorkflowEngine, deps *Deps) (*Controller, error) {
	rollouts, err := engine.RolloutRunner(&RolloutWorkflow{Deps: *deps})
	if err != nil {
		return nil, fmt.Errorf("create rollout runner: %w", err)
	}
	rollbacks, err := engine.RollbackRunner(&RollbackWorkflow{Deps: *deps})
	if err != nil {
		return nil, fmt.Errorf("create rollback runner: %w", err)
	}
	return &Controller{Rollouts: rollouts, Rollbacks: rollbacks, Deps: deps}, nil
}

// Deploy runs one rollout to completion. A rolled-back rollout returns
// the result plus an error wrapping [domain.ErrRolloutFailed]; a lease
// conflict surfaces [domain.ErrLocked] immediately.
func (c *Controller) Deploy(ctx context.Context, req domain.RolloutRequest) (domain.RolloutResult, error) {
	if req.RolloutID == "" {
		req.RolloutID = domain.RolloutID(uuid.NewString())
	}
	handle, err := c.Rollouts.Run(ctx, req)
	if err != nil {
		return domain.RolloutResult{}, fmt.Errorf("start rollout workflow: %w", err)
	}
	res, err := handle.AwaitResult(ctx)
	if err != nil {
		return res, restoreSentinel(err)
	}
	if res.Outcome == domain.OutcomeRolledBack {
		return res, fmt.Errorf("batch %d of %d: %s: %w", res.FailedBatch, res.BatchesTotal, res.Reason, domain.ErrRolloutFailed)
	}
	return res, nil
}

// sentinels restorable at the workflow engine boundary. ErrNoCheckpoint
// precedes ErrNotFound so a flattened checkpoint miss matches the more
// specific sentinel.
var awaitSentinels = []error{
	domain.ErrLocked,
	domain.ErrNoCheckpoint,
	domain.ErrRolloutFailed,
	domain.ErrNotFound,
	domain.ErrInvalidArgument,
}

// restoreSentinel re-derives sentinel identity on errors awaited from a
// workflow engine. Durable engines serialize activity errors and rebuild
// them from the message alone, so errors.Is on the raw result would miss
// sentinels such as [domain.ErrLocked] once a workflow crossed a
// persistence boundary.
func restoreSentinel(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, sentinel := range awaitSentinels {
		if errors.Is(err, sentinel) {
			return err
		}
		if strings.Contains(msg, sentinel.Error()) {
			return &flattenedError{msg: msg, sentinel: sentinel}
		}
	}
	return err
}

// flattenedError reattaches a sentinel to an error whose chain was lost
// in engine serialization, keeping the original message intact.
type flattenedError struct {
	msg      string
	sentinel error
}

func (e *flattenedError) Error() string { return e.msg }
func (e *flattenedError) Unwrap() error { return e.sentinel }

// Rollback reverts an environment to a checkpoint; an empty checkpoint ID
// selects the most recent one.
func (c *Controller) Rollback(ctx context.Context, req domain.RollbackRequest) (domain.RollbackResult, error) {
	if req.RollbackID == "" {
		req.RollbackID = domain.RolloutID(uuid.NewString())
	}
	handle, err := c.Rollbacks.Run(ctx, req)
	if err != nil {
		return domain.RollbackResult{}, fmt.Errorf("start rollback workflow: %w", err)
	}
	res, err := handle.AwaitResult(ctx)
	return res, restoreSentinel(err)
}

// ReconcileResult reports what steady-state reconciliation did.
type ReconcileResult struct {
	Terminated []domain.InstanceID
	Launched   []domain.InstanceID
	Healthy    bool
}

// Reconcile restores an environment to its recorded pool size at the
// current version: non-healthy members are terminated and replaced. It
// holds the tier lease for the duration so it cannot race a rollout.
func (c *Controller) Reconcile(ctx context.Context, tier domain.Tier) (ReconcileResult, error) {
	d := c.Deps
	var res ReconcileResult

	holder := domain.RolloutID(uuid.NewString())
	if err := d.Environments.AcquireLease(ctx, tier, holder, d.leaseTTL()); err != nil {
		return res, err
	}
	defer func() {
		if err := d.Environments.ReleaseLease(context.WithoutCancel(ctx), tier, holder); err != nil {
			d.logger().Warn("release reconcile lease", "tier", tier, "error", err)
		}
	}()

	env, err := d.Environments.Get(ctx, tier)
	if err != nil {
		return res, err
	}
	target := len(env.Instances)

	sick := env.UnhealthyInstances()
	if len(sick) == 0 {
		res.Healthy = env.FullyHealthy()
		return res, nil
	}
	d.logger().Info("reconciling pool", "tier", tier, "unhealthy", len(sick), "version", env.CurrentVersion)

	if err := d.detachAndTerminate(ctx, tier, sick); err != nil {
		return res, err
	}
	for _, ref := range sick {
		res.Terminated = append(res.Terminated, ref.ID)
	}
	env, err = d.swapPoolMembers(ctx, tier, sick, nil)
	if err != nil {
		return res, err
	}

	deficit := target - len(env.Instances)
	if deficit > 0 {
		fresh, err := d.launchAndAttach(ctx, tier, env.CurrentVersion, deficit)
		if err != nil {
			return res, err
		}
		report := d.Prober.Probe(ctx, fresh, d.probeSpec())
		env, err = d.swapPoolMembers(ctx, tier, nil, healthyRefs(report))
		if err != nil {
			return res, err
		}
		for _, ref := range fresh {
			res.Launched = append(res.Launched, ref.ID)
		}
	}
	res.Healthy = env.FullyHealthy()
	return res, nil
}
