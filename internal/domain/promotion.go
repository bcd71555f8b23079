package domain

import (
	"fmt"
	"time"
)

// PromotionOutcome is the gate's decision for one promotion request.
type PromotionOutcome string

const (
	PromotionApproved PromotionOutcome = "approved"
	PromotionRejected PromotionOutcome = "rejected"
)

// PromotionRecord is one entry in the append-only promotion audit log.
// Every gate invocation appends exactly one record, approved or rejected.
// RolloutID links an approved promotion to the deploy it triggered.
type PromotionRecord struct {
	ID          string
	FromTier    Tier
	ToTier      Tier
	Version     string
	RequestedBy string
	DecidedAt   time.Time
	Outcome     PromotionOutcome
	Reason      string
	RolloutID   RolloutID
}

// promotionOrder gives each tier its position in the promotion ladder.
var promotionOrder = map[Tier]int{TierDev: 0, TierStaging: 1, TierProd: 2}

// ValidatePromotionPath enforces the tier adjacency policy: promotions
// move forward by exactly one tier. dev -> prod may never skip staging.
func ValidatePromotionPath(from, to Tier) error {
	if _, err := ParseTier(string(from)); err != nil {
		return err
	}
	if _, err := ParseTier(string(to)); err != nil {
		return err
	}
	if from == TierDev && to == TierProd {
		return fmt.Errorf("%w: direct dev to prod promotion is not allowed", ErrInvalidArgument)
	}
	if promotionOrder[to] != promotionOrder[from]+1 {
		return fmt.Errorf("%w: cannot promote from %s to %s", ErrInvalidArgument, from, to)
	}
	return nil
}
