// Package notify provides notification channel implementations.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// LogChannel implements [domain.NotificationChannel] by writing to the
// structured log. It is the default sink for local operation.
type LogChannel struct {
	Logger *slog.Logger
}

func (c *LogChannel) Publish(ctx context.Context, channel domain.ChannelRef, message string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("notification", "channel", channel, "message", message)
	return nil
}

// Recording implements [domain.NotificationChannel] by storing messages
// for inspection. Test use.
type Recording struct {
	mu       sync.Mutex
	messages []RecordedMessage
}

// RecordedMessage is one captured publication.
type RecordedMessage struct {
	Channel domain.ChannelRef
	Message string
}

func (c *Recording) Publish(ctx context.Context, channel domain.ChannelRef, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, RecordedMessage{Channel: channel, Message: message})
	return nil
}

// Messages returns a copy of everything published so far.
func (c *Recording) Messages() []RecordedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RecordedMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Retrying wraps a channel with bounded retries and fixed backoff.
// A publication that fails every attempt returns the last error.
type Retrying struct {
	Next     domain.NotificationChannel
	Attempts int
	Backoff  time.Duration
	Clock    domain.Clock
	Logger   *slog.Logger
}

func (c *Retrying) attempts() int {
	if c.Attempts > 0 {
		return c.Attempts
	}
	return 3
}

func (c *Retrying) clock() domain.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return domain.SystemClock()
}

func (c *Retrying) Publish(ctx context.Context, channel domain.ChannelRef, message string) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts(); attempt++ {
		lastErr = c.Next.Publish(ctx, channel, message)
		if lastErr == nil {
			return nil
		}
		if c.Logger != nil {
			c.Logger.Debug("notification attempt failed",
				"channel", channel, "attempt", attempt, "error", lastErr)
		}
		if attempt == c.attempts() {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock().After(c.Backoff):
		}
	}
	return fmt.Errorf("publish to %s after %d attempts: %w", channel, c.attempts(), lastErr)
}

var (
	_ domain.NotificationChannel = (*LogChannel)(nil)
	_ domain.NotificationChannel = (*Recording)(nil)
	_ domain.NotificationChannel = (*Retrying)(nil)
)
