package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/helmgate/helmgate/internal/domain"
)

// EscalationRunRepo implements [domain.EscalationRunRepository] backed by
// SQLite.
type EscalationRunRepo struct {
	DB *sql.DB
}

func (r *EscalationRunRepo) Create(ctx context.Context, run domain.EscalationRun) error {
	policy, err := json.Marshal(run.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO escalation_runs (id, alarm_name, severity, reason, policy,
		                              escalations_sent, started_at, next_due_at, resolved_at, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AlarmName, string(run.Severity), run.Reason, string(policy),
		run.EscalationsSent, timeToNS(run.StartedAt), timeToNS(run.NextDueAt),
		timePtrToNS(run.ResolvedAt), string(run.State),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("escalation run %q: %w", run.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert escalation run: %w", err)
	}
	return nil
}

func (r *EscalationRunRepo) Update(ctx context.Context, run domain.EscalationRun) error {
	policy, err := json.Marshal(run.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE escalation_runs
		 SET severity = ?, reason = ?, policy = ?, escalations_sent = ?,
		     next_due_at = ?, resolved_at = ?, state = ?
		 WHERE id = ?`,
		string(run.Severity), run.Reason, string(policy), run.EscalationsSent,
		timeToNS(run.NextDueAt), timePtrToNS(run.ResolvedAt), string(run.State),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update escalation run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("escalation run %q: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *EscalationRunRepo) ActiveByAlarm(ctx context.Context, alarmName string) (domain.EscalationRun, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, alarm_name, severity, reason, policy,
		        escalations_sent, started_at, next_due_at, resolved_at, state
		 FROM escalation_runs
		 WHERE alarm_name = ? AND state = ?
		 ORDER BY started_at DESC LIMIT 1`,
		alarmName, string(domain.RunActive),
	)
	return scanEscalationRun(row)
}

func (r *EscalationRunRepo) ListActive(ctx context.Context) ([]domain.EscalationRun, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, alarm_name, severity, reason, policy,
		        escalations_sent, started_at, next_due_at, resolved_at, state
		 FROM escalation_runs WHERE state = ? ORDER BY started_at`,
		string(domain.RunActive),
	)
	if err != nil {
		return nil, fmt.Errorf("list active escalation runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.EscalationRun
	for rows.Next() {
		run, err := scanEscalationRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanEscalationRun(s scanner) (domain.EscalationRun, error) {
	var run domain.EscalationRun
	var severity, policyJSON, state string
	var startedNS, dueNS, resolvedNS int64
	err := s.Scan(&run.ID, &run.AlarmName, &severity, &run.Reason, &policyJSON,
		&run.EscalationsSent, &startedNS, &dueNS, &resolvedNS, &state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return run, fmt.Errorf("scan escalation run: %w", err)
	}
	run.Severity = domain.Severity(severity)
	run.State = domain.EscalationRunState(state)
	run.StartedAt = nsToTime(startedNS)
	run.NextDueAt = nsToTime(dueNS)
	if resolvedNS != 0 {
		t := nsToTime(resolvedNS)
		run.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(policyJSON), &run.Policy); err != nil {
		return run, fmt.Errorf("unmarshal policy: %w", err)
	}
	return run, nil
}
