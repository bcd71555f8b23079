package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/helmgate/helmgate/internal/domain"
)

// PromotionLogRepo implements [domain.PromotionLog] backed by SQLite.
// Records are append-only; there are no update or delete operations.
type PromotionLogRepo struct {
	DB *sql.DB
}

func (r *PromotionLogRepo) Append(ctx context.Context, rec domain.PromotionRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO promotion_records (id, from_tier, to_tier, version, requested_by,
		                                decided_at, outcome, reason, rollout_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.FromTier), string(rec.ToTier), rec.Version, rec.RequestedBy,
		timeToNS(rec.DecidedAt), string(rec.Outcome), rec.Reason, string(rec.RolloutID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("promotion record %q: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert promotion record: %w", err)
	}
	return nil
}

func (r *PromotionLogRepo) List(ctx context.Context) ([]domain.PromotionRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, from_tier, to_tier, version, requested_by,
		        decided_at, outcome, reason, rollout_id
		 FROM promotion_records ORDER BY decided_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list promotion records: %w", err)
	}
	defer rows.Close()

	var recs []domain.PromotionRecord
	for rows.Next() {
		var rec domain.PromotionRecord
		var from, to, outcome, rolloutID string
		var decidedNS int64
		err := rows.Scan(&rec.ID, &from, &to, &rec.Version, &rec.RequestedBy,
			&decidedNS, &outcome, &rec.Reason, &rolloutID)
		if err != nil {
			return nil, fmt.Errorf("scan promotion record: %w", err)
		}
		rec.FromTier = domain.Tier(from)
		rec.ToTier = domain.Tier(to)
		rec.Outcome = domain.PromotionOutcome(outcome)
		rec.RolloutID = domain.RolloutID(rolloutID)
		rec.DecidedAt = nsToTime(decidedNS)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
