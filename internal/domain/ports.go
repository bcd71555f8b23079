package domain

import (
	"context"
	"time"
)

// ComputeFleet launches and terminates application instances. The fleet
// assigns each instance its address; health state starts unknown.
type ComputeFleet interface {
	LaunchInstances(ctx context.Context, version string, count int) ([]InstanceRef, error)
	TerminateInstances(ctx context.Context, refs []InstanceRef) error
}

// TrafficRouter attaches and detaches instances from a tier's serving pool.
type TrafficRouter interface {
	AttachToPool(ctx context.Context, tier Tier, ref InstanceRef) error
	DetachFromPool(ctx context.Context, tier Tier, ref InstanceRef) error
}

// NotificationChannel publishes escalation messages. Implementations retry
// transient failures with bounded backoff; a permanent failure is returned
// to the caller, which logs it and moves on.
type NotificationChannel interface {
	Publish(ctx context.Context, channel ChannelRef, message string) error
}

// ArtifactSource resolves a version to an artifact locator. The promotion
// gate uses it to confirm a version exists before promoting.
type ArtifactSource interface {
	Resolve(ctx context.Context, version string) (string, error)
}

// DataStoreStatus is the read-only diagnostic view of a tier's data store.
type DataStoreStatus struct {
	Reachable       bool
	Detail          string
	LatestSnapshot  string
	SnapshotTakenAt time.Time
}

// DataStoreDiagnostics reports data-store state for db-failure recovery.
// It never mutates anything; restoring a snapshot is a separate,
// operator-invoked action.
type DataStoreDiagnostics interface {
	Status(ctx context.Context, tier Tier) (DataStoreStatus, error)
}

// Provisioner exposes declared-vs-observed resource state for drift
// reporting during infra-failure recovery.
type Provisioner interface {
	DeclaredResources(ctx context.Context, tier Tier) ([]string, error)
	ObservedResources(ctx context.Context, tier Tier) ([]string, error)
}

// ProbeSpec parameterizes one probing round.
type ProbeSpec struct {
	Path                 string        `json:"path"`
	ExpectedCode         int           `json:"expected_code"`
	Interval             time.Duration `json:"interval"`
	Timeout              time.Duration `json:"timeout"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
}

// InstanceHealth is the per-instance outcome of a probing round.
type InstanceHealth struct {
	Instance InstanceRef `json:"instance"`
	State    HealthState `json:"state"`
	Attempts int         `json:"attempts"`
	LastErr  string      `json:"last_err,omitempty"`
}

// HealthReport aggregates a probing round. Every probed instance appears
// exactly once, including on timeout; instances that never reached the
// required consecutive successes are marked unhealthy.
type HealthReport struct {
	Results []InstanceHealth `json:"results"`
}

// AllHealthy reports whether every probed instance converged to healthy.
// An empty report is vacuously healthy.
func (r HealthReport) AllHealthy() bool {
	for _, res := range r.Results {
		if res.State != HealthHealthy {
			return false
		}
	}
	return true
}

// Unhealthy returns the instances that did not converge.
func (r HealthReport) Unhealthy() []InstanceHealth {
	var out []InstanceHealth
	for _, res := range r.Results {
		if res.State != HealthHealthy {
			out = append(out, res)
		}
	}
	return out
}

// HealthProber polls instances until they converge or the round times out.
type HealthProber interface {
	Probe(ctx context.Context, refs []InstanceRef, spec ProbeSpec) HealthReport
}
