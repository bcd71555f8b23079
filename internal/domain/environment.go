package domain

import (
	"fmt"
	"time"
)

// Tier identifies one deployment environment in promotion order.
type Tier string

const (
	TierDev     Tier = "dev"
	TierStaging Tier = "staging"
	TierProd    Tier = "prod"
)

// ParseTier validates a tier name from external input.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierDev, TierStaging, TierProd:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidArgument, s)
	}
}

// HealthState is the last probed health of an instance.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// InstanceID identifies a compute instance within the fleet.
type InstanceID string

// InstanceRef is one application instance in a tier's serving pool.
type InstanceRef struct {
	ID            InstanceID  `json:"id"`
	Address       string      `json:"address"`
	HealthState   HealthState `json:"health_state"`
	LaunchVersion string      `json:"launch_version"`
}

// RolloutID identifies one rollout or rollback execution. It doubles as
// the lease holder token for the tier being mutated.
type RolloutID string

// Environment is the persisted state of one tier: its versions, serving
// pool, health floor, and rollout lease.
type Environment struct {
	Tier               Tier          `json:"tier"`
	CurrentVersion     string        `json:"current_version"`
	DesiredVersion     string        `json:"desired_version"`
	Instances          []InstanceRef `json:"instances"`
	MinHealthyFraction float64       `json:"min_healthy_fraction"`
	LockHolder         RolloutID     `json:"lock_holder,omitempty"`
	LeaseExpiresAt     time.Time     `json:"lease_expires_at,omitempty"`
	LastDeployedAt     time.Time     `json:"last_deployed_at,omitempty"`
}

// Validate checks structural invariants on a stored environment.
func (e Environment) Validate() error {
	if _, err := ParseTier(string(e.Tier)); err != nil {
		return err
	}
	if e.MinHealthyFraction <= 0 || e.MinHealthyFraction > 1 {
		return fmt.Errorf("%w: min healthy fraction %v outside (0, 1]", ErrInvalidArgument, e.MinHealthyFraction)
	}
	return nil
}

// FullyHealthy reports whether every pool member probed healthy. An empty
// pool is not healthy: there is nothing serving.
func (e Environment) FullyHealthy() bool {
	if len(e.Instances) == 0 {
		return false
	}
	for _, ref := range e.Instances {
		if ref.HealthState != HealthHealthy {
			return false
		}
	}
	return true
}

// UnhealthyInstances returns the pool members whose last probe did not
// converge to healthy.
func (e Environment) UnhealthyInstances() []InstanceRef {
	var out []InstanceRef
	for _, ref := range e.Instances {
		if ref.HealthState != HealthHealthy {
			out = append(out, ref)
		}
	}
	return out
}

// Locked reports whether the tier's rollout lease is held and unexpired
// at the given instant.
func (e Environment) Locked(now time.Time) bool {
	return e.LockHolder != "" && e.LeaseExpiresAt.After(now)
}
