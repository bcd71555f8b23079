package recovery_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/infrastructure/localfleet"
	"github.com/helmgate/helmgate/internal/recovery"
	"github.com/helmgate/helmgate/internal/rollout"
)

type stubReconciler struct {
	result rollout.ReconcileResult
	err    error
	tiers  []domain.Tier
}

func (s *stubReconciler) Reconcile(ctx context.Context, tier domain.Tier) (rollout.ReconcileResult, error) {
	s.tiers = append(s.tiers, tier)
	return s.result, s.err
}

func newDispatcher(rec *stubReconciler) (*recovery.Dispatcher, *localfleet.DataStore, *localfleet.Provisioner) {
	ds := &localfleet.DataStore{}
	prov := &localfleet.Provisioner{}
	return &recovery.Dispatcher{
		Controller:  rec,
		DataStore:   ds,
		Provisioner: prov,
	}, ds, prov
}

func TestDispatch_AppFailureReportsReplacements(t *testing.T) {
	rec := &stubReconciler{result: rollout.ReconcileResult{
		Terminated: []domain.InstanceID{"i-000001", "i-000002"},
		Launched:   []domain.InstanceID{"i-000007", "i-000008"},
		Healthy:    true,
	}}
	d, _, _ := newDispatcher(rec)

	out, err := d.Dispatch(context.Background(), domain.ScenarioAppFailure, domain.TierStaging)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(rec.tiers) != 1 || rec.tiers[0] != domain.TierStaging {
		t.Fatalf("reconciled tiers = %v", rec.tiers)
	}
	if len(out.ActionsTaken) != 4 {
		t.Fatalf("ActionsTaken = %v, want 4 entries", out.ActionsTaken)
	}
	if !strings.Contains(out.ActionsTaken[0], "i-000001") || !strings.Contains(out.ActionsTaken[2], "i-000007") {
		t.Errorf("ActionsTaken = %v", out.ActionsTaken)
	}
	if out.RequiresManualFollowUp {
		t.Error("healthy reconcile flagged for manual follow-up")
	}
}

func TestDispatch_AppFailureUnhealthyNeedsFollowUp(t *testing.T) {
	rec := &stubReconciler{result: rollout.ReconcileResult{
		Terminated: []domain.InstanceID{"i-000001"},
		Launched:   []domain.InstanceID{"i-000009"},
		Healthy:    false,
	}}
	d, _, _ := newDispatcher(rec)

	out, err := d.Dispatch(context.Background(), domain.ScenarioAppFailure, domain.TierProd)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.RequiresManualFollowUp {
		t.Error("unconverged pool not flagged for manual follow-up")
	}
	if len(out.Findings) == 0 {
		t.Error("unconverged pool produced no findings")
	}
}

func TestDispatch_AppFailureReconcileError(t *testing.T) {
	rec := &stubReconciler{err: errors.New("lease held by rollout 42")}
	d, _, _ := newDispatcher(rec)

	if _, err := d.Dispatch(context.Background(), domain.ScenarioAppFailure, domain.TierProd); err == nil {
		t.Fatal("Dispatch succeeded despite reconcile failure")
	}
}

func TestDispatch_DBFailureReachable(t *testing.T) {
	d, _, _ := newDispatcher(&stubReconciler{})

	out, err := d.Dispatch(context.Background(), domain.ScenarioDBFailure, domain.TierProd)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(out.ActionsTaken) != 0 {
		t.Errorf("diagnostic scenario took actions: %v", out.ActionsTaken)
	}
	if out.RequiresManualFollowUp {
		t.Error("reachable data store flagged for manual follow-up")
	}
	if len(out.Findings) != 1 || !strings.Contains(out.Findings[0], "reachable") {
		t.Errorf("Findings = %v", out.Findings)
	}
}

func TestDispatch_DBFailureUnreachableReportsSnapshot(t *testing.T) {
	d, ds, _ := newDispatcher(&stubReconciler{})
	ds.SetStatus(domain.TierProd, domain.DataStoreStatus{
		Reachable:       false,
		Detail:          "connection refused",
		LatestSnapshot:  "snap-20260829-0300",
		SnapshotTakenAt: time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC),
	})

	out, err := d.Dispatch(context.Background(), domain.ScenarioDBFailure, domain.TierProd)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.RequiresManualFollowUp {
		t.Error("unreachable data store not flagged for manual follow-up")
	}
	if len(out.ActionsTaken) != 0 {
		t.Errorf("db-failure playbook mutated something: %v", out.ActionsTaken)
	}
	joined := strings.Join(out.Findings, "\n")
	if !strings.Contains(joined, "unreachable") || !strings.Contains(joined, "snap-20260829-0300") {
		t.Errorf("Findings = %v", out.Findings)
	}
}

func TestDispatch_DBFailureUnreachableNoSnapshot(t *testing.T) {
	d, ds, _ := newDispatcher(&stubReconciler{})
	ds.SetStatus(domain.TierDev, domain.DataStoreStatus{Reachable: false, Detail: "timeout"})

	out, err := d.Dispatch(context.Background(), domain.ScenarioDBFailure, domain.TierDev)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(strings.Join(out.Findings, "\n"), "no snapshot available") {
		t.Errorf("Findings = %v", out.Findings)
	}
}

func TestDispatch_InfraFailureReportsDriftBothWays(t *testing.T) {
	d, _, prov := newDispatcher(&stubReconciler{})
	prov.Declare(domain.TierProd, []string{"lb-prod", "pool-prod", "dns-prod"})
	prov.Observe(domain.TierProd, []string{"lb-prod", "pool-prod", "legacy-cache"})

	out, err := d.Dispatch(context.Background(), domain.ScenarioInfraFailure, domain.TierProd)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.RequiresManualFollowUp {
		t.Error("drift not flagged for manual follow-up")
	}
	joined := strings.Join(out.Findings, "\n")
	if !strings.Contains(joined, "declared but missing: dns-prod") {
		t.Errorf("missing-resource finding absent: %v", out.Findings)
	}
	if !strings.Contains(joined, "observed but undeclared: legacy-cache") {
		t.Errorf("undeclared-resource finding absent: %v", out.Findings)
	}
}

func TestDispatch_InfraFailureNoDrift(t *testing.T) {
	d, _, prov := newDispatcher(&stubReconciler{})
	prov.Declare(domain.TierStaging, []string{"lb-staging", "pool-staging"})
	prov.Observe(domain.TierStaging, []string{"pool-staging", "lb-staging"})

	out, err := d.Dispatch(context.Background(), domain.ScenarioInfraFailure, domain.TierStaging)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.RequiresManualFollowUp {
		t.Error("clean tier flagged for manual follow-up")
	}
	if len(out.Findings) != 1 || !strings.Contains(out.Findings[0], "no drift") {
		t.Errorf("Findings = %v", out.Findings)
	}
}

func TestDispatch_UnknownScenario(t *testing.T) {
	d, _, _ := newDispatcher(&stubReconciler{})

	if _, err := d.Dispatch(context.Background(), domain.Scenario("network-partition"), domain.TierProd); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Dispatch: got %v, want ErrInvalidArgument", err)
	}
}

func TestDispatch_UnknownTier(t *testing.T) {
	d, _, _ := newDispatcher(&stubReconciler{})

	if _, err := d.Dispatch(context.Background(), domain.ScenarioAppFailure, domain.Tier("qa")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Dispatch: got %v, want ErrInvalidArgument", err)
	}
}
