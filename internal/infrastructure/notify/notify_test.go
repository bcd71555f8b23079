package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/infrastructure/notify"
)

// flaky fails the first n publications, then delegates to a Recording.
type flaky struct {
	failures int
	calls    int
	sink     notify.Recording
}

func (f *flaky) Publish(ctx context.Context, channel domain.ChannelRef, message string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	return f.sink.Publish(ctx, channel, message)
}

// immediateClock makes every backoff elapse instantly and counts waits.
type immediateClock struct {
	waits int
}

func (c *immediateClock) Now() time.Time { return time.Now() }

func (c *immediateClock) After(d time.Duration) <-chan time.Time {
	c.waits++
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestRetrying_SucceedsAfterTransientFailures(t *testing.T) {
	next := &flaky{failures: 2}
	clock := &immediateClock{}
	ch := &notify.Retrying{Next: next, Attempts: 3, Backoff: time.Second, Clock: clock}

	if err := ch.Publish(context.Background(), "pager", "disk full"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if next.calls != 3 {
		t.Errorf("calls = %d, want 3", next.calls)
	}
	if clock.waits != 2 {
		t.Errorf("backoff waits = %d, want 2", clock.waits)
	}
	msgs := next.sink.Messages()
	if len(msgs) != 1 || msgs[0].Channel != "pager" || msgs[0].Message != "disk full" {
		t.Errorf("delivered = %+v", msgs)
	}
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	next := &flaky{failures: 10}
	ch := &notify.Retrying{Next: next, Attempts: 3, Clock: &immediateClock{}}

	err := ch.Publish(context.Background(), "pager", "disk full")
	if err == nil {
		t.Fatal("Publish succeeded despite persistent failures")
	}
	if next.calls != 3 {
		t.Errorf("calls = %d, want 3", next.calls)
	}
	// No backoff after the final attempt.
	if got := ch.Clock.(*immediateClock).waits; got != 2 {
		t.Errorf("backoff waits = %d, want 2", got)
	}
}

func TestRetrying_DefaultsToThreeAttempts(t *testing.T) {
	next := &flaky{failures: 10}
	ch := &notify.Retrying{Next: next, Clock: &immediateClock{}}

	if err := ch.Publish(context.Background(), "pager", "x"); err == nil {
		t.Fatal("Publish succeeded despite persistent failures")
	}
	if next.calls != 3 {
		t.Errorf("calls = %d, want default of 3", next.calls)
	}
}

func TestRetrying_CancelledContextStopsRetries(t *testing.T) {
	next := &flaky{failures: 10}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A real clock here: the cancelled context must win the backoff wait.
	ch := &notify.Retrying{Next: next, Attempts: 3, Backoff: time.Hour}

	err := ch.Publish(ctx, "pager", "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Publish: got %v, want context.Canceled", err)
	}
	if next.calls != 1 {
		t.Errorf("calls = %d, want 1", next.calls)
	}
}
