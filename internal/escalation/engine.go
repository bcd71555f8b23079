// Package escalation implements the alert escalation engine: per-alarm
// timed notification runs driven by severity policies.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/helmgate/helmgate/internal/domain"
)

// Engine turns alarm transitions into escalation runs. One run per
// unresolved alarm; a run must be closed before its alarm can start a
// new one. Runs are persisted so pending escalations survive restarts.
type Engine struct {
	Runs     domain.EscalationRunRepository
	Policies map[domain.Severity]domain.EscalationPolicy
	Notifier domain.NotificationChannel
	Clock    domain.Clock
	Logger   *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	active  map[string]*activeRun
	wg      sync.WaitGroup
}

// activeRun ties a scheduler goroutine's cancel to the run it serves, so
// a stale goroutine for a closed run cannot cancel a newer run that was
// opened for the same alarm name.
type activeRun struct {
	runID  string
	cancel context.CancelFunc
}

func (e *Engine) clock() domain.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return domain.SystemClock()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Start resumes persisted active runs. Timers restart from each run's
// stored NextDueAt, so a restart delays no escalation. ctx bounds the
// lifetime of all run goroutines.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	runs, err := e.Runs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active escalation runs: %w", err)
	}
	for _, run := range runs {
		e.launch(run)
		e.logger().Info("escalation run resumed",
			"alarm", run.AlarmName, "run_id", run.ID, "next_due_at", run.NextDueAt)
	}
	return nil
}

// HandleAlarm processes one alarm transition. A repeated alarm while a
// run is active is a no-op; an ok transition resolves the run and stops
// its timer; insufficient-data transitions are ignored.
func (e *Engine) HandleAlarm(ctx context.Context, event domain.AlarmEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	switch event.State {
	case domain.AlarmAlarm:
		return e.open(ctx, event)
	case domain.AlarmOK:
		return e.resolve(ctx, event)
	default:
		e.logger().Debug("alarm transition ignored", "alarm", event.Name, "state", event.State)
		return nil
	}
}

func (e *Engine) open(ctx context.Context, event domain.AlarmEvent) error {
	if _, err := e.Runs.ActiveByAlarm(ctx, event.Name); err == nil {
		e.logger().Info("alarm already escalating", "alarm", event.Name)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("look up active run: %w", err)
	}

	policy, ok := e.Policies[event.Severity]
	if !ok {
		return fmt.Errorf("%w: no escalation policy for severity %q", domain.ErrInvalidArgument, event.Severity)
	}
	if len(policy.Channels) == 0 || policy.MaxEscalations < 1 {
		return fmt.Errorf("%w: policy for severity %q has no channels or escalations", domain.ErrInvalidArgument, event.Severity)
	}

	now := e.clock().Now()
	run := domain.EscalationRun{
		ID:        uuid.NewString(),
		AlarmName: event.Name,
		Severity:  event.Severity,
		Reason:    event.Reason,
		Policy:    policy,
		StartedAt: now,
		NextDueAt: now.Add(policy.InitialDelay),
		State:     domain.RunActive,
	}
	if err := e.Runs.Create(ctx, run); err != nil {
		return fmt.Errorf("create escalation run: %w", err)
	}

	e.launch(run)
	e.logger().Info("escalation run started",
		"alarm", run.AlarmName, "run_id", run.ID, "severity", run.Severity, "next_due_at", run.NextDueAt)
	return nil
}

func (e *Engine) resolve(ctx context.Context, event domain.AlarmEvent) error {
	run, err := e.Runs.ActiveByAlarm(ctx, event.Name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up active run: %w", err)
	}

	// Cancel the scheduler and mark the run resolved under the same lock
	// the scheduler persists under. A fire already inside Publish when the
	// alarm clears must not write its progress over the resolution.
	e.mu.Lock()
	e.stopLocked(run.AlarmName, run.ID)
	resolvedAt := e.clock().Now()
	run.State = domain.RunResolved
	run.ResolvedAt = &resolvedAt
	err = e.Runs.Update(ctx, run)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("resolve escalation run: %w", err)
	}
	e.logger().Info("escalation run resolved",
		"alarm", run.AlarmName, "run_id", run.ID, "escalations_sent", run.EscalationsSent)
	return nil
}

// launch registers a run and starts its timer goroutine.
func (e *Engine) launch(run domain.EscalationRun) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	if e.active == nil {
		e.active = make(map[string]*activeRun)
	}
	e.active[run.AlarmName] = &activeRun{runID: run.ID, cancel: cancel}

	e.wg.Add(1)
	go e.schedule(ctx, run)
}

// stopLocked cancels the scheduler for one specific run. Caller holds
// e.mu. The registration is left alone when it belongs to a different
// run for the same alarm.
func (e *Engine) stopLocked(alarmName, runID string) {
	if cur, ok := e.active[alarmName]; ok && cur.runID == runID {
		cur.cancel()
		delete(e.active, alarmName)
	}
}

// schedule fires the run's escalations until it resolves or exhausts.
// Due times advance by the policy interval rather than by re-reading the
// clock after each send, so slow notifications do not drift the schedule.
func (e *Engine) schedule(ctx context.Context, run domain.EscalationRun) {
	defer e.wg.Done()

	for {
		if wait := run.NextDueAt.Sub(e.clock().Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-e.clock().After(wait):
			}
		}
		if ctx.Err() != nil {
			return
		}

		channel := run.Policy.Channels[min(run.EscalationsSent, len(run.Policy.Channels)-1)]
		msg := fmt.Sprintf("alarm %s (%s): %s [escalation %d/%d]",
			run.AlarmName, run.Severity, run.Reason,
			run.EscalationsSent+1, run.Policy.MaxEscalations)
		if err := e.Notifier.Publish(ctx, channel, msg); err != nil {
			e.logger().Warn("escalation notification failed",
				"alarm", run.AlarmName, "channel", channel, "error", err)
		}

		run.EscalationsSent++
		if run.EscalationsSent >= run.Policy.MaxEscalations {
			run.State = domain.RunExhausted
			e.closeRun(ctx, run)
			e.logger().Warn("escalation run exhausted",
				"alarm", run.AlarmName, "run_id", run.ID, "escalations_sent", run.EscalationsSent)
			return
		}

		run.NextDueAt = run.NextDueAt.Add(run.Policy.EscalationInterval)
		e.persist(ctx, run)
	}
}

// persist writes run progress outside the caller's request context; runs
// outlive the alarm ingestion request that started them. A run whose
// context was cancelled mid-fire has been resolved or superseded, and
// its progress must not overwrite that state.
func (e *Engine) persist(ctx context.Context, run domain.EscalationRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if err := e.Runs.Update(context.Background(), run); err != nil {
		e.logger().Error("persist escalation run",
			"alarm", run.AlarmName, "run_id", run.ID, "error", err)
	}
}

// closeRun persists a terminal state and deregisters the scheduler in
// one critical section, so a new run for the same alarm cannot slip in
// between the write and the deregistration.
func (e *Engine) closeRun(ctx context.Context, run domain.EscalationRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if err := e.Runs.Update(context.Background(), run); err != nil {
		e.logger().Error("persist escalation run",
			"alarm", run.AlarmName, "run_id", run.ID, "error", err)
	}
	e.stopLocked(run.AlarmName, run.ID)
}

// Close stops all run goroutines and waits for them to exit. Active runs
// stay active in the store and resume on the next Start.
func (e *Engine) Close() {
	e.mu.Lock()
	for name, ar := range e.active {
		ar.cancel()
		delete(e.active, name)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
