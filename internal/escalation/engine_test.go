package escalation_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/escalation"
	"github.com/helmgate/helmgate/internal/infrastructure/notify"
)

// fakeClock is a manually advanced clock. After waiters fire when Advance
// moves the clock past their deadline.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []clockWaiter
}

type clockWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, clockWaiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	var pending []clockWaiter
	for _, w := range c.waiters {
		if w.deadline.After(c.now) {
			pending = append(pending, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = pending
}

// waitForWaiter blocks until a run goroutine is parked on the clock, so
// that Advance cannot race ahead of the timer registration.
func (c *fakeClock) waitForWaiter(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		n := len(c.waiters)
		c.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no timer registered on the fake clock")
}

// memRuns is an in-memory EscalationRunRepository. Run goroutines persist
// progress concurrently with test assertions, so it locks.
type memRuns struct {
	mu   sync.Mutex
	runs map[string]domain.EscalationRun
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[string]domain.EscalationRun)}
}

func (r *memRuns) Create(ctx context.Context, run domain.EscalationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	r.runs[run.ID] = run
	return nil
}

func (r *memRuns) Update(ctx context.Context, run domain.EscalationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
	}
	r.runs[run.ID] = run
	return nil
}

func (r *memRuns) ActiveByAlarm(ctx context.Context, alarmName string) (domain.EscalationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.AlarmName == alarmName && run.State == domain.RunActive {
			return run, nil
		}
	}
	return domain.EscalationRun{}, fmt.Errorf("alarm %s: %w", alarmName, domain.ErrNotFound)
}

func (r *memRuns) ListActive(ctx context.Context) ([]domain.EscalationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EscalationRun
	for _, run := range r.runs {
		if run.State == domain.RunActive {
			out = append(out, run)
		}
	}
	return out, nil
}

func (r *memRuns) get(t *testing.T, alarmName string) domain.EscalationRun {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.AlarmName == alarmName {
			return run
		}
	}
	t.Fatalf("no run for alarm %s", alarmName)
	return domain.EscalationRun{}
}

func criticalPolicy() domain.EscalationPolicy {
	return domain.EscalationPolicy{
		Severity:           domain.SeverityCritical,
		InitialDelay:       5 * time.Minute,
		EscalationInterval: 10 * time.Minute,
		MaxEscalations:     3,
		Channels:           []domain.ChannelRef{"pager", "oncall-secondary"},
	}
}

func newEngine(t *testing.T) (*escalation.Engine, *memRuns, *notify.Recording, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	runs := newMemRuns()
	rec := &notify.Recording{}
	engine := &escalation.Engine{
		Runs: runs,
		Policies: map[domain.Severity]domain.EscalationPolicy{
			domain.SeverityCritical: criticalPolicy(),
		},
		Notifier: rec,
		Clock:    clock,
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, runs, rec, clock
}

func waitForMessages(t *testing.T, rec *notify.Recording, n int) []notify.RecordedMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := rec.Messages()
		if len(msgs) >= n {
			return msgs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications, have %d", n, len(rec.Messages()))
	return nil
}

func waitForRunState(t *testing.T, runs *memRuns, alarmName string, want domain.EscalationRunState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runs.get(t, alarmName).State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("run for %s never reached state %s (now %s)", alarmName, want, runs.get(t, alarmName).State)
}

func alarmEvent(name string, state domain.AlarmState) domain.AlarmEvent {
	return domain.AlarmEvent{
		Name:     name,
		Severity: domain.SeverityCritical,
		State:    state,
		Reason:   "error rate above 5%",
	}
}

func TestHandleAlarm_EscalatesUntilExhausted(t *testing.T) {
	engine, runs, rec, clock := newEngine(t)

	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmAlarm)); err != nil {
		t.Fatalf("HandleAlarm: %v", err)
	}
	if len(rec.Messages()) != 0 {
		t.Fatalf("notified before the initial delay: %+v", rec.Messages())
	}

	clock.waitForWaiter(t)
	clock.Advance(5 * time.Minute)
	msgs := waitForMessages(t, rec, 1)
	if msgs[0].Channel != "pager" {
		t.Errorf("first escalation channel = %s, want pager", msgs[0].Channel)
	}
	if !strings.Contains(msgs[0].Message, "api-errors") || !strings.Contains(msgs[0].Message, "1/3") {
		t.Errorf("first message = %q", msgs[0].Message)
	}

	clock.waitForWaiter(t)
	clock.Advance(10 * time.Minute)
	msgs = waitForMessages(t, rec, 2)
	if msgs[1].Channel != "oncall-secondary" {
		t.Errorf("second escalation channel = %s, want oncall-secondary", msgs[1].Channel)
	}

	clock.waitForWaiter(t)
	clock.Advance(10 * time.Minute)
	msgs = waitForMessages(t, rec, 3)
	// The ladder clamps at the last channel once it runs out of rungs.
	if msgs[2].Channel != "oncall-secondary" {
		t.Errorf("third escalation channel = %s, want oncall-secondary", msgs[2].Channel)
	}
	if !strings.Contains(msgs[2].Message, "3/3") {
		t.Errorf("third message = %q", msgs[2].Message)
	}

	waitForRunState(t, runs, "api-errors", domain.RunExhausted)
	if _, err := runs.ActiveByAlarm(context.Background(), "api-errors"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("exhausted run still active: %v", err)
	}
}

func TestHandleAlarm_ResolveBeforeFirstEscalation(t *testing.T) {
	engine, runs, rec, clock := newEngine(t)

	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmAlarm)); err != nil {
		t.Fatalf("HandleAlarm: %v", err)
	}
	clock.waitForWaiter(t)

	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmOK)); err != nil {
		t.Fatalf("HandleAlarm ok: %v", err)
	}

	run := runs.get(t, "api-errors")
	if run.State != domain.RunResolved {
		t.Fatalf("run state = %s, want resolved", run.State)
	}
	if run.ResolvedAt == nil {
		t.Error("resolved run has no ResolvedAt")
	}

	// Past the would-be due time; the cancelled timer must not fire.
	clock.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	if got := rec.Messages(); len(got) != 0 {
		t.Errorf("resolved alarm still escalated: %+v", got)
	}
}

func TestHandleAlarm_RepeatedAlarmIsNoOp(t *testing.T) {
	engine, runs, _, clock := newEngine(t)

	for i := 0; i < 3; i++ {
		if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmAlarm)); err != nil {
			t.Fatalf("HandleAlarm #%d: %v", i+1, err)
		}
	}
	clock.waitForWaiter(t)

	active, err := runs.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active runs = %d, want 1", len(active))
	}
}

func TestHandleAlarm_InsufficientDataIgnored(t *testing.T) {
	engine, runs, _, _ := newEngine(t)

	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmInsufficient)); err != nil {
		t.Fatalf("HandleAlarm: %v", err)
	}
	if active, _ := runs.ListActive(context.Background()); len(active) != 0 {
		t.Errorf("insufficient-data transition opened a run: %+v", active)
	}
}

func TestHandleAlarm_OKWithoutRunIsNoOp(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmOK)); err != nil {
		t.Fatalf("HandleAlarm: %v", err)
	}
}

func TestHandleAlarm_MissingPolicy(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	event := alarmEvent("disk-pressure", domain.AlarmAlarm)
	event.Severity = domain.SeverityWarning
	if err := engine.HandleAlarm(context.Background(), event); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("HandleAlarm: got %v, want ErrInvalidArgument", err)
	}
}

func TestHandleAlarm_InvalidEvent(t *testing.T) {
	engine, _, _, _ := newEngine(t)

	event := alarmEvent("", domain.AlarmAlarm)
	if err := engine.HandleAlarm(context.Background(), event); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("HandleAlarm: got %v, want ErrInvalidArgument", err)
	}
}

// gatedNotifier parks Publish between entered and release, so a test can
// act while a notification is in flight.
type gatedNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func (n *gatedNotifier) Publish(ctx context.Context, channel domain.ChannelRef, message string) error {
	n.entered <- struct{}{}
	<-n.release
	return nil
}

func TestHandleAlarm_ResolveDuringNotificationStands(t *testing.T) {
	clock := newFakeClock()
	runs := newMemRuns()
	gate := &gatedNotifier{entered: make(chan struct{}, 1), release: make(chan struct{})}
	engine := &escalation.Engine{
		Runs: runs,
		Policies: map[domain.Severity]domain.EscalationPolicy{
			domain.SeverityCritical: criticalPolicy(),
		},
		Notifier: gate,
		Clock:    clock,
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(engine.Close)

	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmAlarm)); err != nil {
		t.Fatalf("HandleAlarm: %v", err)
	}
	clock.waitForWaiter(t)
	clock.Advance(5 * time.Minute)
	<-gate.entered // the run is now inside Publish

	// The alarm clears while the notification is still in flight. The
	// run's progress write after Publish returns must not reopen it.
	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmOK)); err != nil {
		t.Fatalf("HandleAlarm ok: %v", err)
	}
	close(gate.release)
	engine.Close()

	run := runs.get(t, "api-errors")
	if run.State != domain.RunResolved {
		t.Fatalf("run state = %s after in-flight notification completed, want resolved", run.State)
	}
	if _, err := runs.ActiveByAlarm(context.Background(), "api-errors"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("resolved run reported active: %v", err)
	}
	if active, _ := runs.ListActive(context.Background()); len(active) != 0 {
		t.Errorf("resolved run would be resumed on restart: %+v", active)
	}
}

func TestHandleAlarm_ReAlarmAfterExhaustionStartsFreshRun(t *testing.T) {
	clock := newFakeClock()
	runs := newMemRuns()
	rec := &notify.Recording{}
	policy := domain.EscalationPolicy{
		Severity:           domain.SeverityCritical,
		InitialDelay:       time.Minute,
		EscalationInterval: time.Minute,
		MaxEscalations:     1,
		Channels:           []domain.ChannelRef{"pager"},
	}
	engine := &escalation.Engine{
		Runs:     runs,
		Policies: map[domain.Severity]domain.EscalationPolicy{domain.SeverityCritical: policy},
		Notifier: rec,
		Clock:    clock,
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(engine.Close)

	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmAlarm)); err != nil {
		t.Fatalf("HandleAlarm: %v", err)
	}
	clock.waitForWaiter(t)
	clock.Advance(time.Minute)
	waitForMessages(t, rec, 1)
	waitForRunState(t, runs, "api-errors", domain.RunExhausted)

	// The alarm fires again after the first run exhausted. A fresh run
	// must start and escalate on its own timer.
	if err := engine.HandleAlarm(context.Background(), alarmEvent("api-errors", domain.AlarmAlarm)); err != nil {
		t.Fatalf("HandleAlarm re-alarm: %v", err)
	}
	clock.waitForWaiter(t)
	clock.Advance(time.Minute)
	msgs := waitForMessages(t, rec, 2)
	if !strings.Contains(msgs[1].Message, "1/1") {
		t.Errorf("second run message = %q, want a fresh 1/1 escalation", msgs[1].Message)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		active, err := runs.ListActive(context.Background())
		if err != nil {
			t.Fatalf("ListActive: %v", err)
		}
		if len(active) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second run never exhausted: %+v", active)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStart_ResumesPersistedRuns(t *testing.T) {
	clock := newFakeClock()
	runs := newMemRuns()
	rec := &notify.Recording{}

	// A run persisted by a previous process, due in two minutes.
	persisted := domain.EscalationRun{
		ID:              "run-1",
		AlarmName:       "api-errors",
		Severity:        domain.SeverityCritical,
		Reason:          "error rate above 5%",
		Policy:          criticalPolicy(),
		EscalationsSent: 1,
		StartedAt:       clock.Now().Add(-15 * time.Minute),
		NextDueAt:       clock.Now().Add(2 * time.Minute),
		State:           domain.RunActive,
	}
	if err := runs.Create(context.Background(), persisted); err != nil {
		t.Fatalf("Create: %v", err)
	}

	engine := &escalation.Engine{
		Runs: runs,
		Policies: map[domain.Severity]domain.EscalationPolicy{
			domain.SeverityCritical: criticalPolicy(),
		},
		Notifier: rec,
		Clock:    clock,
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(engine.Close)

	clock.waitForWaiter(t)
	clock.Advance(2 * time.Minute)
	msgs := waitForMessages(t, rec, 1)
	if msgs[0].Channel != "oncall-secondary" {
		t.Errorf("resumed escalation channel = %s, want oncall-secondary", msgs[0].Channel)
	}
	if !strings.Contains(msgs[0].Message, "2/3") {
		t.Errorf("resumed message = %q", msgs[0].Message)
	}
}
