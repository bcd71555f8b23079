// Package localfleet provides in-process implementations of the compute,
// routing, artifact, data-store, and provisioner ports. Instances are real
// loopback HTTP listeners, so the health prober exercises the same code
// path it would against remote instances. This is the default backend for
// the CLI and a naive stand-in for a cloud fleet.
package localfleet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// Event records one fleet mutation, for inspection after a run. PoolSize
// is the tier's pool size after the event applied; launches and
// terminations carry the pool size of the tier they were observed under,
// or -1 when the instance was not attached anywhere.
type Event struct {
	Kind     string
	Tier     domain.Tier
	Ref      domain.InstanceRef
	PoolSize int
	At       time.Time
}

type instance struct {
	ref     domain.InstanceRef
	server  *http.Server
	ln      net.Listener
	mu      sync.Mutex
	healthy bool
}

func (i *instance) setHealthy(v bool) {
	i.mu.Lock()
	i.healthy = v
	i.mu.Unlock()
}

func (i *instance) isHealthy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.healthy
}

// Fleet implements [domain.ComputeFleet] and [domain.TrafficRouter].
// Zero value fields are defaulted on first use; construct with struct
// literals like the repositories.
type Fleet struct {
	Clock      domain.Clock
	Logger     *slog.Logger
	HealthPath string

	mu           sync.Mutex
	seq          int
	instances    map[domain.InstanceID]*instance
	pools        map[domain.Tier][]domain.InstanceID
	failVersions map[string]bool
	events       []Event
}

func (f *Fleet) clock() domain.Clock {
	if f.Clock != nil {
		return f.Clock
	}
	return domain.SystemClock()
}

func (f *Fleet) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *Fleet) healthPath() string {
	if f.HealthPath != "" {
		return f.HealthPath
	}
	return "/health"
}

// FailVersion marks a version as broken: its instances serve 503 until
// flipped healthy with [Fleet.SetHealthy]. Call before launching.
func (f *Fleet) FailVersion(version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVersions == nil {
		f.failVersions = make(map[string]bool)
	}
	f.failVersions[version] = true
}

// SetHealthy flips a live instance's served health state.
func (f *Fleet) SetHealthy(id domain.InstanceID, healthy bool) error {
	f.mu.Lock()
	inst, ok := f.instances[id]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("instance %q: %w", id, domain.ErrNotFound)
	}
	inst.setHealthy(healthy)
	return nil
}

func (f *Fleet) LaunchInstances(ctx context.Context, version string, count int) ([]domain.InstanceRef, error) {
	if count <= 0 {
		return nil, fmt.Errorf("launch count %d: %w", count, domain.ErrInvalidArgument)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.instances == nil {
		f.instances = make(map[domain.InstanceID]*instance)
	}

	refs := make([]domain.InstanceRef, 0, count)
	for range count {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("listen for instance: %w", err)
		}

		f.seq++
		inst := &instance{
			ref: domain.InstanceRef{
				ID:            domain.InstanceID(fmt.Sprintf("i-%06d", f.seq)),
				Address:       ln.Addr().String(),
				HealthState:   domain.HealthUnknown,
				LaunchVersion: version,
			},
			ln:      ln,
			healthy: !f.failVersions[version],
		}

		mux := http.NewServeMux()
		mux.HandleFunc(f.healthPath(), func(w http.ResponseWriter, r *http.Request) {
			if inst.isHealthy() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		inst.server = &http.Server{Handler: mux}
		go func() { _ = inst.server.Serve(ln) }()

		f.instances[inst.ref.ID] = inst
		f.record("launch", "", inst.ref)
		refs = append(refs, inst.ref)
	}
	f.logger().Debug("instances launched", "version", version, "count", count)
	return refs, nil
}

func (f *Fleet) TerminateInstances(ctx context.Context, refs []domain.InstanceRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range refs {
		inst, ok := f.instances[ref.ID]
		if !ok {
			return fmt.Errorf("instance %q: %w", ref.ID, domain.ErrNotFound)
		}
		_ = inst.server.Close()
		delete(f.instances, ref.ID)
		f.record("terminate", "", ref)
	}
	return nil
}

func (f *Fleet) AttachToPool(ctx context.Context, tier domain.Tier, ref domain.InstanceRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[ref.ID]; !ok {
		return fmt.Errorf("attach %q to %s: %w", ref.ID, tier, domain.ErrNotFound)
	}
	if f.pools == nil {
		f.pools = make(map[domain.Tier][]domain.InstanceID)
	}
	for _, id := range f.pools[tier] {
		if id == ref.ID {
			return fmt.Errorf("instance %q already in %s pool: %w", ref.ID, tier, domain.ErrAlreadyExists)
		}
	}
	f.pools[tier] = append(f.pools[tier], ref.ID)
	f.record("attach", tier, ref)
	return nil
}

func (f *Fleet) DetachFromPool(ctx context.Context, tier domain.Tier, ref domain.InstanceRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.pools[tier]
	for i, id := range members {
		if id == ref.ID {
			f.pools[tier] = append(members[:i:i], members[i+1:]...)
			f.record("detach", tier, ref)
			return nil
		}
	}
	// Detaching a non-member is harmless during reversion.
	return nil
}

// PoolMembers returns the live refs currently attached to a tier.
func (f *Fleet) PoolMembers(tier domain.Tier) []domain.InstanceRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.InstanceRef, 0, len(f.pools[tier]))
	for _, id := range f.pools[tier] {
		if inst, ok := f.instances[id]; ok {
			out = append(out, inst.ref)
		}
	}
	return out
}

// Events returns a copy of the recorded mutation history.
func (f *Fleet) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// Close terminates all instances and their listeners.
func (f *Fleet) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, inst := range f.instances {
		_ = inst.server.Close()
		delete(f.instances, id)
	}
}

// record appends an event. Caller holds f.mu.
func (f *Fleet) record(kind string, tier domain.Tier, ref domain.InstanceRef) {
	size := -1
	if tier != "" {
		size = len(f.pools[tier])
	}
	f.events = append(f.events, Event{
		Kind:     kind,
		Tier:     tier,
		Ref:      ref,
		PoolSize: size,
		At:       f.clock().Now(),
	})
}

var (
	_ domain.ComputeFleet  = (*Fleet)(nil)
	_ domain.TrafficRouter = (*Fleet)(nil)
)
