package domain

import (
	"context"
	"time"
)

// EnvironmentRepository persists environment records and implements the
// per-tier rollout lease. Lease operations are conditional updates: they
// succeed only when the stated holder condition holds in the store, so
// concurrent controllers cannot both win.
type EnvironmentRepository interface {
	Create(ctx context.Context, env Environment) error
	Get(ctx context.Context, tier Tier) (Environment, error)
	List(ctx context.Context) ([]Environment, error)
	Update(ctx context.Context, env Environment) error

	// AcquireLease takes the tier's lease for holder. It succeeds when the
	// lease is free or expired (takeover after a crashed controller) and
	// returns ErrLocked otherwise.
	AcquireLease(ctx context.Context, tier Tier, holder RolloutID, ttl time.Duration) error

	// RefreshLease extends the lease; it fails with ErrLocked when holder
	// no longer owns it.
	RefreshLease(ctx context.Context, tier Tier, holder RolloutID, ttl time.Duration) error

	// ReleaseLease frees the lease when held by holder. Releasing a lease
	// that was already taken over is not an error.
	ReleaseLease(ctx context.Context, tier Tier, holder RolloutID) error
}

// CheckpointRepository persists pre-rollout checkpoints.
type CheckpointRepository interface {
	Put(ctx context.Context, cp Checkpoint) error
	Get(ctx context.Context, id string) (Checkpoint, error)

	// Latest returns the most recent checkpoint for the tier, or
	// ErrNoCheckpoint when none is retained.
	Latest(ctx context.Context, tier Tier) (Checkpoint, error)

	Delete(ctx context.Context, id string) error

	// PruneSuperseded removes the tier's checkpoints other than keepID
	// that were created before cutoff, returning how many were removed.
	PruneSuperseded(ctx context.Context, tier Tier, keepID string, cutoff time.Time) (int, error)
}

// PromotionLog is the append-only promotion audit log.
type PromotionLog interface {
	Append(ctx context.Context, rec PromotionRecord) error
	List(ctx context.Context) ([]PromotionRecord, error)
}

// EscalationRunRepository persists escalation runs so pending escalations
// survive process restarts.
type EscalationRunRepository interface {
	Create(ctx context.Context, run EscalationRun) error
	Update(ctx context.Context, run EscalationRun) error

	// ActiveByAlarm returns the active run for an alarm name, or
	// ErrNotFound when the alarm has no active run.
	ActiveByAlarm(ctx context.Context, alarmName string) (EscalationRun, error)

	ListActive(ctx context.Context) ([]EscalationRun, error)
}
