// Package durableengine implements [rollout.WorkflowEngine] using
// cschleiden/go-workflows, so an interrupted rollout or rollback resumes
// from its last completed activity after a restart.
package durableengine

import (
	"context"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/rollout"
)

// activityInvoker calls an activity from the workflow context with the
// correct generic types. Created at construction time when concrete
// types are known.
type activityInvoker func(wfCtx workflow.Context, in any) (any, error)

// Engine implements [rollout.WorkflowEngine] backed by go-workflows.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 10 * time.Minute
}

func (e *Engine) RolloutRunner(wf *rollout.RolloutWorkflow) (rollout.RolloutRunner, error) {
	invokers := make(map[string]activityInvoker)

	if err := registerActivity(e.Worker, invokers, wf.LoadEnvironment()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.AcquireLease()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.RecordCheckpoint()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.LaunchBatch()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.ProbeBatch()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.RetireBatch()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.CommitVersion()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.AbortToCheckpoint()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.ReleaseLease()); err != nil {
		return nil, err
	}

	wfFunc := func(ctx workflow.Context, req domain.RolloutRequest) (domain.RolloutResult, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: invokers}
		return wf.Run(runner, req)
	}
	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(wf.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", wf.Name(), err)
	}

	return &runner[domain.RolloutRequest, domain.RolloutResult]{
		client:  e.Client,
		wfName:  wf.Name(),
		timeout: e.timeout(),
	}, nil
}

func (e *Engine) RollbackRunner(wf *rollout.RollbackWorkflow) (rollout.RollbackRunner, error) {
	invokers := make(map[string]activityInvoker)

	if err := registerActivity(e.Worker, invokers, wf.LoadCheckpoint()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.AcquireLease()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.RevertToCheckpoint()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.ReleaseLease()); err != nil {
		return nil, err
	}

	wfFunc := func(ctx workflow.Context, req domain.RollbackRequest) (domain.RollbackResult, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: invokers}
		return wf.Run(runner, req)
	}
	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(wf.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", wf.Name(), err)
	}

	return &runner[domain.RollbackRequest, domain.RollbackResult]{
		client:  e.Client,
		wfName:  wf.Name(),
		timeout: e.timeout(),
	}, nil
}

// registerActivity registers a typed activity with go-workflows and
// creates a corresponding typed invoker.
func registerActivity[I, O any](
	w *worker.Worker,
	invokers map[string]activityInvoker,
	activity domain.Activity[I, O],
) error {
	activityFn := func(ctx context.Context, in I) (O, error) {
		return activity.Run(ctx, in)
	}

	if err := w.RegisterActivity(activityFn, registry.WithName(activity.Name())); err != nil {
		return fmt.Errorf("register activity %q: %w", activity.Name(), err)
	}

	invokers[activity.Name()] = func(wfCtx workflow.Context, in any) (any, error) {
		result, err := workflow.ExecuteActivity[O](
			wfCtx, workflow.DefaultActivityOptions, activity.Name(), in,
		).Get(wfCtx)
		return result, err
	}

	return nil
}

type durableRunner struct {
	wfCtx    workflow.Context
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	return workflow.WorkflowInstance(r.wfCtx).InstanceID
}

func (r *durableRunner) Context() context.Context {
	return context.Background()
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.wfCtx, in)
}

type runner[I, O any] struct {
	client  *client.Client
	wfName  string
	timeout time.Duration
}

func (r *runner[I, O]) Run(ctx context.Context, req I) (domain.WorkflowHandle[O], error) {
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: uuid.NewString(),
	}, r.wfName, req)
	if err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}

	return &workflowHandle[O]{
		client:   r.client,
		instance: instance,
		timeout:  r.timeout,
	}, nil
}

type workflowHandle[O any] struct {
	client   *client.Client
	instance *workflow.Instance
	timeout  time.Duration
}

func (h *workflowHandle[O]) WorkflowID() string {
	return h.instance.InstanceID
}

func (h *workflowHandle[O]) AwaitResult(ctx context.Context) (O, error) {
	return client.GetWorkflowResult[O](ctx, h.client, h.instance, h.timeout)
}
