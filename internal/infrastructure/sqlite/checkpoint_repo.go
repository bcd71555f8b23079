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

// CheckpointRepo implements [domain.CheckpointRepository] backed by SQLite.
type CheckpointRepo struct {
	DB *sql.DB
}

func (r *CheckpointRepo) Put(ctx context.Context, cp domain.Checkpoint) error {
	instances, err := json.Marshal(cp.Instances)
	if err != nil {
		return fmt.Errorf("marshal instances: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO checkpoints (id, tier, version, instances, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		cp.ID, string(cp.Tier), cp.Version, string(instances), timeToNS(cp.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("checkpoint %q: %w", cp.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func (r *CheckpointRepo) Get(ctx context.Context, id string) (domain.Checkpoint, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, tier, version, instances, created_at FROM checkpoints WHERE id = ?`,
		id,
	)
	return scanCheckpoint(row)
}

func (r *CheckpointRepo) Latest(ctx context.Context, tier domain.Tier) (domain.Checkpoint, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, tier, version, instances, created_at FROM checkpoints
		 WHERE tier = ? ORDER BY created_at DESC LIMIT 1`,
		string(tier),
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, domain.ErrNotFound) {
		return cp, fmt.Errorf("tier %s: %w", tier, domain.ErrNoCheckpoint)
	}
	return cp, err
}

func (r *CheckpointRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("checkpoint %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *CheckpointRepo) PruneSuperseded(ctx context.Context, tier domain.Tier, keepID string, cutoff time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE tier = ? AND id != ? AND created_at < ?`,
		string(tier), keepID, timeToNS(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanCheckpoint(s scanner) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var tier, instancesJSON string
	var createdNS int64
	if err := s.Scan(&cp.ID, &tier, &cp.Version, &instancesJSON, &createdNS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cp, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return cp, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.Tier = domain.Tier(tier)
	cp.CreatedAt = nsToTime(createdNS)
	if err := json.Unmarshal([]byte(instancesJSON), &cp.Instances); err != nil {
		return cp, fmt.Errorf("unmarshal instances: %w", err)
	}
	return cp, nil
}
