// Package syncengine provides a synchronous, in-process
// [rollout.WorkflowEngine]. Activities execute inline with no persistence
// or replay; it backs the CLI's default mode and most tests.
package syncengine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/rollout"
)

var runCounter atomic.Int64

// Engine implements [rollout.WorkflowEngine] with synchronous, in-process
// execution. No durable state is kept.
type Engine struct{}

func (e *Engine) RolloutRunner(wf *rollout.RolloutWorkflow) (rollout.RolloutRunner, error) {
	return &rolloutRunner{wf: wf}, nil
}

func (e *Engine) RollbackRunner(wf *rollout.RollbackWorkflow) (rollout.RollbackRunner, error) {
	return &rollbackRunner{wf: wf}, nil
}

type rolloutRunner struct {
	wf *rollout.RolloutWorkflow
}

func (r *rolloutRunner) Run(ctx context.Context, req domain.RolloutRequest) (domain.WorkflowHandle[domain.RolloutResult], error) {
	id := runCounter.Add(1)
	result, err := r.wf.Run(&syncRunner{id: id, ctx: ctx}, req)
	return &handle[domain.RolloutResult]{id: id, result: result, err: err}, nil
}

type rollbackRunner struct {
	wf *rollout.RollbackWorkflow
}

func (r *rollbackRunner) Run(ctx context.Context, req domain.RollbackRequest) (domain.WorkflowHandle[domain.RollbackResult], error) {
	id := runCounter.Add(1)
	result, err := r.wf.Run(&syncRunner{id: id, ctx: ctx}, req)
	return &handle[domain.RollbackResult]{id: id, result: result, err: err}, nil
}

type syncRunner struct {
	id  int64
	ctx context.Context
}

func (r *syncRunner) ID() string               { return fmt.Sprintf("sync-%d", r.id) }
func (r *syncRunner) Context() context.Context { return r.ctx }
func (r *syncRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

type handle[O any] struct {
	id     int64
	result O
	err    error
}

func (h *handle[O]) WorkflowID() string                       { return fmt.Sprintf("sync-%d", h.id) }
func (h *handle[O]) AwaitResult(_ context.Context) (O, error) { return h.result, h.err }
