package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// EnvironmentRepo implements [domain.EnvironmentRepository] backed by
// SQLite. Lease operations are single conditional UPDATEs, so two
// controllers racing for the same tier cannot both win.
type EnvironmentRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *EnvironmentRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *EnvironmentRepo) Create(ctx context.Context, env domain.Environment) error {
	instances, err := json.Marshal(env.Instances)
	if err != nil {
		return fmt.Errorf("marshal instances: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO environments (tier, current_version, desired_version, instances,
		                           min_healthy_fraction, lock_holder, lease_expires_at, last_deployed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(env.Tier), env.CurrentVersion, env.DesiredVersion, string(instances),
		env.MinHealthyFraction, string(env.LockHolder),
		timeToNS(env.LeaseExpiresAt), timeToNS(env.LastDeployedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("environment %q: %w", env.Tier, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert environment: %w", err)
	}
	return nil
}

func (r *EnvironmentRepo) Get(ctx context.Context, tier domain.Tier) (domain.Environment, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT tier, current_version, desired_version, instances,
		        min_healthy_fraction, lock_holder, lease_expires_at, last_deployed_at
		 FROM environments WHERE tier = ?`,
		string(tier),
	)
	return scanEnvironment(row)
}

func (r *EnvironmentRepo) List(ctx context.Context) ([]domain.Environment, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT tier, current_version, desired_version, instances,
		        min_healthy_fraction, lock_holder, lease_expires_at, last_deployed_at
		 FROM environments ORDER BY tier`,
	)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	var envs []domain.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

func (r *EnvironmentRepo) Update(ctx context.Context, env domain.Environment) error {
	instances, err := json.Marshal(env.Instances)
	if err != nil {
		return fmt.Errorf("marshal instances: %w", err)
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE environments
		 SET current_version = ?, desired_version = ?, instances = ?,
		     min_healthy_fraction = ?, last_deployed_at = ?
		 WHERE tier = ?`,
		env.CurrentVersion, env.DesiredVersion, string(instances),
		env.MinHealthyFraction, timeToNS(env.LastDeployedAt),
		string(env.Tier),
	)
	if err != nil {
		return fmt.Errorf("update environment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("environment %q: %w", env.Tier, domain.ErrNotFound)
	}
	return nil
}

func (r *EnvironmentRepo) AcquireLease(ctx context.Context, tier domain.Tier, holder domain.RolloutID, ttl time.Duration) error {
	now := r.now()
	res, err := r.DB.ExecContext(ctx,
		`UPDATE environments
		 SET lock_holder = ?, lease_expires_at = ?
		 WHERE tier = ? AND (lock_holder = '' OR lock_holder = ? OR lease_expires_at <= ?)`,
		string(holder), timeToNS(now.Add(ttl)),
		string(tier), string(holder), timeToNS(now),
	)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.leaseConflict(ctx, tier)
	}
	return nil
}

func (r *EnvironmentRepo) RefreshLease(ctx context.Context, tier domain.Tier, holder domain.RolloutID, ttl time.Duration) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE environments SET lease_expires_at = ?
		 WHERE tier = ? AND lock_holder = ?`,
		timeToNS(r.now().Add(ttl)), string(tier), string(holder),
	)
	if err != nil {
		return fmt.Errorf("refresh lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.leaseConflict(ctx, tier)
	}
	return nil
}

func (r *EnvironmentRepo) ReleaseLease(ctx context.Context, tier domain.Tier, holder domain.RolloutID) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE environments SET lock_holder = '', lease_expires_at = 0
		 WHERE tier = ? AND lock_holder = ?`,
		string(tier), string(holder),
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	// A lease already taken over is someone else's to release.
	return nil
}

// leaseConflict distinguishes a missing environment from a held lease.
func (r *EnvironmentRepo) leaseConflict(ctx context.Context, tier domain.Tier) error {
	var holder string
	err := r.DB.QueryRowContext(ctx,
		`SELECT lock_holder FROM environments WHERE tier = ?`, string(tier),
	).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("environment %q: %w", tier, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("inspect lease: %w", err)
	}
	return fmt.Errorf("tier %s leased by %q: %w", tier, holder, domain.ErrLocked)
}

func scanEnvironment(s scanner) (domain.Environment, error) {
	var env domain.Environment
	var tier, instancesJSON, holder string
	var leaseNS, deployedNS int64
	err := s.Scan(&tier, &env.CurrentVersion, &env.DesiredVersion, &instancesJSON,
		&env.MinHealthyFraction, &holder, &leaseNS, &deployedNS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return env, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return env, fmt.Errorf("scan environment: %w", err)
	}
	env.Tier = domain.Tier(tier)
	env.LockHolder = domain.RolloutID(holder)
	env.LeaseExpiresAt = nsToTime(leaseNS)
	env.LastDeployedAt = nsToTime(deployedNS)
	if err := json.Unmarshal([]byte(instancesJSON), &env.Instances); err != nil {
		return env, fmt.Errorf("unmarshal instances: %w", err)
	}
	return env, nil
}
