package domain

import "time"

// Checkpoint is an immutable snapshot of an environment taken immediately
// before a rollout mutates its pool. One checkpoint is retained per
// environment until superseded by the next successful rollout (after a
// grace period) or consumed by a rollback.
type Checkpoint struct {
	ID        string
	Tier      Tier
	Version   string
	Instances []InstanceRef
	CreatedAt time.Time
}
