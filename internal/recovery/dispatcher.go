// Package recovery implements the disaster recovery dispatcher: scenario
// playbooks that mutate only what their scenario owns and report
// everything they did.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/rollout"
)

// Reconciler replaces a tier's unhealthy instances at the current
// version. [rollout.Controller] satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, tier domain.Tier) (rollout.ReconcileResult, error)
}

// Dispatcher routes a failure scenario to its playbook.
type Dispatcher struct {
	Controller  Reconciler
	DataStore   domain.DataStoreDiagnostics
	Provisioner domain.Provisioner
	Logger      *slog.Logger
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Dispatch runs the playbook for one scenario against one tier.
func (d *Dispatcher) Dispatch(ctx context.Context, scenario domain.Scenario, tier domain.Tier) (domain.RecoveryOutcome, error) {
	if _, err := domain.ParseTier(string(tier)); err != nil {
		return domain.RecoveryOutcome{}, err
	}

	out := domain.RecoveryOutcome{Scenario: scenario, Tier: tier}
	var err error
	switch scenario {
	case domain.ScenarioAppFailure:
		err = d.appFailure(ctx, &out)
	case domain.ScenarioDBFailure:
		err = d.dbFailure(ctx, &out)
	case domain.ScenarioInfraFailure:
		err = d.infraFailure(ctx, &out)
	default:
		return out, fmt.Errorf("%w: unknown scenario %q", domain.ErrInvalidArgument, scenario)
	}
	if err != nil {
		return out, err
	}

	d.logger().Info("recovery dispatched",
		"scenario", scenario, "tier", tier,
		"actions", len(out.ActionsTaken), "manual_follow_up", out.RequiresManualFollowUp)
	return out, nil
}

// appFailure reconciles the tier's pool: replace unhealthy instances at
// the current version.
func (d *Dispatcher) appFailure(ctx context.Context, out *domain.RecoveryOutcome) error {
	res, err := d.Controller.Reconcile(ctx, out.Tier)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", out.Tier, err)
	}
	for _, id := range res.Terminated {
		out.ActionsTaken = append(out.ActionsTaken, fmt.Sprintf("terminated unhealthy instance %s", id))
	}
	for _, id := range res.Launched {
		out.ActionsTaken = append(out.ActionsTaken, fmt.Sprintf("launched replacement instance %s", id))
	}
	if !res.Healthy {
		out.Findings = append(out.Findings, "pool did not converge to healthy after replacement")
		out.RequiresManualFollowUp = true
	}
	return nil
}

// dbFailure is diagnostic only. Restoring a snapshot destroys data
// written since it was taken, so that step is always left to an operator.
func (d *Dispatcher) dbFailure(ctx context.Context, out *domain.RecoveryOutcome) error {
	st, err := d.DataStore.Status(ctx, out.Tier)
	if err != nil {
		return fmt.Errorf("data store status for %s: %w", out.Tier, err)
	}

	if st.Reachable {
		out.Findings = append(out.Findings, fmt.Sprintf("data store reachable: %s", st.Detail))
		return nil
	}

	out.Findings = append(out.Findings, fmt.Sprintf("data store unreachable: %s", st.Detail))
	if st.LatestSnapshot != "" {
		out.Findings = append(out.Findings,
			fmt.Sprintf("latest snapshot %s taken at %s", st.LatestSnapshot, st.SnapshotTakenAt.Format("2006-01-02 15:04:05 MST")))
	} else {
		out.Findings = append(out.Findings, "no snapshot available")
	}
	out.RequiresManualFollowUp = true
	return nil
}

// infraFailure reports declared-vs-observed resource drift.
func (d *Dispatcher) infraFailure(ctx context.Context, out *domain.RecoveryOutcome) error {
	declared, err := d.Provisioner.DeclaredResources(ctx, out.Tier)
	if err != nil {
		return fmt.Errorf("declared resources for %s: %w", out.Tier, err)
	}
	observed, err := d.Provisioner.ObservedResources(ctx, out.Tier)
	if err != nil {
		return fmt.Errorf("observed resources for %s: %w", out.Tier, err)
	}

	observedSet := make(map[string]bool, len(observed))
	for _, r := range observed {
		observedSet[r] = true
	}
	declaredSet := make(map[string]bool, len(declared))
	for _, r := range declared {
		declaredSet[r] = true
	}

	for _, r := range declared {
		if !observedSet[r] {
			out.Findings = append(out.Findings, fmt.Sprintf("declared but missing: %s", r))
		}
	}
	for _, r := range observed {
		if !declaredSet[r] {
			out.Findings = append(out.Findings, fmt.Sprintf("observed but undeclared: %s", r))
		}
	}

	if len(out.Findings) > 0 {
		out.RequiresManualFollowUp = true
	} else {
		out.Findings = append(out.Findings, "no drift between declared and observed resources")
	}
	return nil
}
