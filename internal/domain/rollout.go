package domain

// RolloutOutcome is the terminal state of a rollout.
type RolloutOutcome string

const (
	// OutcomeNoop means the environment was already at the target version
	// with a fully healthy pool; nothing was changed and no checkpoint
	// was recorded.
	OutcomeNoop RolloutOutcome = "noop"

	OutcomeSucceeded  RolloutOutcome = "succeeded"
	OutcomeRolledBack RolloutOutcome = "rolled-back"
)

// RolloutRequest is the input to one rollout operation. The controller
// assigns the RolloutID before the workflow starts so that workflow
// replay stays deterministic.
type RolloutRequest struct {
	RolloutID          RolloutID `json:"rollout_id"`
	Tier               Tier      `json:"tier"`
	TargetVersion      string    `json:"target_version"`
	MinHealthyFraction float64   `json:"min_healthy_fraction"` // 0 means use the environment's value
	Reapply            bool      `json:"reapply"`              // re-run even when already at target
	Reason             string    `json:"reason"`
}

// RolloutResult is the typed outcome of a rollout. A rolled-back rollout
// carries the failing batch and the rollback outcome; the caller decides
// the exit status from Outcome alone.
type RolloutResult struct {
	RolloutID      RolloutID       `json:"rollout_id"`
	Tier           Tier            `json:"tier"`
	FromVersion    string          `json:"from_version"`
	ToVersion      string          `json:"to_version"`
	Outcome        RolloutOutcome  `json:"outcome"`
	BatchesTotal   int             `json:"batches_total"`
	BatchesDone    int             `json:"batches_done"`
	FailedBatch    int             `json:"failed_batch,omitempty"` // 1-based, 0 when none
	Reason         string          `json:"reason,omitempty"`
	Rollback       *RollbackResult `json:"rollback,omitempty"`
}

// RollbackRequest is the input to a standalone rollback.
type RollbackRequest struct {
	RollbackID   RolloutID `json:"rollback_id"`
	Tier         Tier      `json:"tier"`
	CheckpointID string    `json:"checkpoint_id"` // empty means latest
	Reason       string    `json:"reason"`
}

// RollbackResult is the typed outcome of reverting an environment to a
// checkpoint. PoolSize and Healthy make a partial reversion representable
// rather than collapsing it into exit-zero success.
type RollbackResult struct {
	Tier            Tier   `json:"tier"`
	CheckpointID    string `json:"checkpoint_id"`
	RestoredVersion string `json:"restored_version"`
	PoolSize        int    `json:"pool_size"`
	Healthy         bool   `json:"healthy"`
	Reason          string `json:"reason,omitempty"`
}
