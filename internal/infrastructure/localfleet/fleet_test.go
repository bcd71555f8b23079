package localfleet_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/infrastructure/localfleet"
)

func newFleet(t *testing.T) *localfleet.Fleet {
	t.Helper()
	f := &localfleet.Fleet{}
	t.Cleanup(f.Close)
	return f
}

func healthStatus(t *testing.T, ref domain.InstanceRef) int {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", ref.Address))
	if err != nil {
		t.Fatalf("probe %s: %v", ref.Address, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLaunch_ServesHealthEndpoint(t *testing.T) {
	f := newFleet(t)

	refs, err := f.LaunchInstances(context.Background(), "1.0.0", 2)
	if err != nil {
		t.Fatalf("LaunchInstances: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("launched %d instances, want 2", len(refs))
	}
	for _, ref := range refs {
		if ref.LaunchVersion != "1.0.0" {
			t.Errorf("instance %s version = %q", ref.ID, ref.LaunchVersion)
		}
		if got := healthStatus(t, ref); got != http.StatusOK {
			t.Errorf("instance %s health = %d, want 200", ref.ID, got)
		}
	}
}

func TestFailVersion_InstancesServe503(t *testing.T) {
	f := newFleet(t)
	f.FailVersion("2.0.0")

	refs, err := f.LaunchInstances(context.Background(), "2.0.0", 1)
	if err != nil {
		t.Fatalf("LaunchInstances: %v", err)
	}
	if got := healthStatus(t, refs[0]); got != http.StatusServiceUnavailable {
		t.Fatalf("broken version health = %d, want 503", got)
	}

	if err := f.SetHealthy(refs[0].ID, true); err != nil {
		t.Fatalf("SetHealthy: %v", err)
	}
	if got := healthStatus(t, refs[0]); got != http.StatusOK {
		t.Errorf("recovered instance health = %d, want 200", got)
	}
}

func TestPools_AttachDetach(t *testing.T) {
	f := newFleet(t)

	refs, err := f.LaunchInstances(context.Background(), "1.0.0", 2)
	if err != nil {
		t.Fatalf("LaunchInstances: %v", err)
	}
	ctx := context.Background()

	for _, ref := range refs {
		if err := f.AttachToPool(ctx, domain.TierStaging, ref); err != nil {
			t.Fatalf("AttachToPool %s: %v", ref.ID, err)
		}
	}
	if err := f.AttachToPool(ctx, domain.TierStaging, refs[0]); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate attach: got %v, want ErrAlreadyExists", err)
	}
	if got := len(f.PoolMembers(domain.TierStaging)); got != 2 {
		t.Fatalf("pool size = %d, want 2", got)
	}

	if err := f.DetachFromPool(ctx, domain.TierStaging, refs[0]); err != nil {
		t.Fatalf("DetachFromPool: %v", err)
	}
	// Detaching again is a no-op, not an error.
	if err := f.DetachFromPool(ctx, domain.TierStaging, refs[0]); err != nil {
		t.Fatalf("repeated DetachFromPool: %v", err)
	}
	members := f.PoolMembers(domain.TierStaging)
	if len(members) != 1 || members[0].ID != refs[1].ID {
		t.Fatalf("pool members = %+v", members)
	}
}

func TestTerminate_RemovesInstance(t *testing.T) {
	f := newFleet(t)

	refs, err := f.LaunchInstances(context.Background(), "1.0.0", 1)
	if err != nil {
		t.Fatalf("LaunchInstances: %v", err)
	}
	if err := f.TerminateInstances(context.Background(), refs); err != nil {
		t.Fatalf("TerminateInstances: %v", err)
	}
	if err := f.SetHealthy(refs[0].ID, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetHealthy on terminated instance: got %v, want ErrNotFound", err)
	}
	if err := f.TerminateInstances(context.Background(), refs); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double terminate: got %v, want ErrNotFound", err)
	}
}

func TestEvents_RecordPoolSizes(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()

	refs, err := f.LaunchInstances(ctx, "1.0.0", 2)
	if err != nil {
		t.Fatalf("LaunchInstances: %v", err)
	}
	for _, ref := range refs {
		if err := f.AttachToPool(ctx, domain.TierProd, ref); err != nil {
			t.Fatalf("AttachToPool: %v", err)
		}
	}
	if err := f.DetachFromPool(ctx, domain.TierProd, refs[0]); err != nil {
		t.Fatalf("DetachFromPool: %v", err)
	}

	events := f.Events()
	if len(events) != 5 {
		t.Fatalf("events = %d, want 5", len(events))
	}
	if events[0].Kind != "launch" || events[0].PoolSize != -1 {
		t.Errorf("launch event = %+v", events[0])
	}
	if events[2].Kind != "attach" || events[2].PoolSize != 1 {
		t.Errorf("first attach event = %+v", events[2])
	}
	if events[3].PoolSize != 2 {
		t.Errorf("second attach event = %+v", events[3])
	}
	if last := events[4]; last.Kind != "detach" || last.PoolSize != 1 {
		t.Errorf("detach event = %+v", last)
	}
}
