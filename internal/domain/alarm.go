package domain

import (
	"fmt"
	"time"
)

// Severity classifies an alarm and selects its escalation policy.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// AlarmState is the reported state of an alarm transition.
type AlarmState string

const (
	AlarmOK           AlarmState = "ok"
	AlarmAlarm        AlarmState = "alarm"
	AlarmInsufficient AlarmState = "insufficient"
)

// AlarmEvent is one state transition emitted by the metrics/alarm source.
type AlarmEvent struct {
	Name       string     `json:"name"`
	Severity   Severity   `json:"severity"`
	State      AlarmState `json:"state"`
	Reason     string     `json:"reason,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Validate checks an incoming alarm event.
func (e AlarmEvent) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: alarm name is required", ErrInvalidArgument)
	}
	switch e.State {
	case AlarmOK, AlarmAlarm, AlarmInsufficient:
	default:
		return fmt.Errorf("%w: unknown alarm state %q", ErrInvalidArgument, e.State)
	}
	switch e.Severity {
	case SeverityCritical, SeverityWarning, SeverityInfo:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidArgument, e.Severity)
	}
	return nil
}

// ChannelRef names a notification channel in escalation order.
type ChannelRef string

// EscalationPolicy is the static, per-severity notification schedule.
type EscalationPolicy struct {
	Severity           Severity      `json:"severity"`
	InitialDelay       time.Duration `json:"initial_delay"`
	EscalationInterval time.Duration `json:"escalation_interval"`
	MaxEscalations     int           `json:"max_escalations"`
	Channels           []ChannelRef  `json:"channels"`
}

// EscalationRunState is the lifecycle state of one escalation run.
type EscalationRunState string

const (
	RunActive    EscalationRunState = "active"
	RunResolved  EscalationRunState = "resolved"
	RunExhausted EscalationRunState = "exhausted"
)

// EscalationRun is the active, timed notification cycle for one unresolved
// alarm. It is the only entity with a pending timer: a run must be closed
// (resolved or exhausted) so no escalation fires after the alarm clears.
type EscalationRun struct {
	ID              string
	AlarmName       string
	Severity        Severity
	Reason          string
	Policy          EscalationPolicy
	EscalationsSent int
	StartedAt       time.Time
	NextDueAt       time.Time
	ResolvedAt      *time.Time
	State           EscalationRunState
}
