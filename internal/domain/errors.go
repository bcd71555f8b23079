package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLocked indicates that an environment lease is held by another
	// rollout. Callers must retry later; the request is never queued.
	ErrLocked = errors.New("environment locked")

	// ErrNoCheckpoint indicates that a rollback was requested for an
	// environment with no retained checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint")

	// ErrRolloutFailed indicates that a rollout aborted and the
	// environment was reverted to its pre-rollout checkpoint.
	ErrRolloutFailed = errors.New("rollout failed")
)
