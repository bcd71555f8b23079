// Package promotion implements the promotion gate: acceptance-checked,
// audit-logged version promotion between adjacent tiers.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/helmgate/helmgate/internal/domain"
)

// Deployer triggers a rollout in the target tier once a promotion is
// approved. [rollout.Controller] satisfies it.
type Deployer interface {
	Deploy(ctx context.Context, req domain.RolloutRequest) (domain.RolloutResult, error)
}

// Request asks the gate to promote a version from one tier to the next.
type Request struct {
	FromTier    domain.Tier
	ToTier      domain.Tier
	Version     string
	RequestedBy string
}

// Gate decides promotions. Every Promote call appends exactly one
// [domain.PromotionRecord], approved or rejected; a rejection is a
// decision, not an error.
type Gate struct {
	Environments domain.EnvironmentRepository
	Log          domain.PromotionLog
	Artifacts    domain.ArtifactSource
	Deployer     Deployer
	Checks       []AcceptanceCheck
	Clock        domain.Clock
	Logger       *slog.Logger
}

func (g *Gate) clock() domain.Clock {
	if g.Clock != nil {
		return g.Clock
	}
	return domain.SystemClock()
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Promote runs the gate for one request. The returned record carries the
// decision; the error is non-nil only for infrastructure failures or a
// failed post-approval deploy.
func (g *Gate) Promote(ctx context.Context, req Request) (domain.PromotionRecord, error) {
	if _, err := domain.ParseTier(string(req.FromTier)); err != nil {
		return domain.PromotionRecord{}, err
	}
	if _, err := domain.ParseTier(string(req.ToTier)); err != nil {
		return domain.PromotionRecord{}, err
	}

	rec := domain.PromotionRecord{
		ID:          uuid.NewString(),
		FromTier:    req.FromTier,
		ToTier:      req.ToTier,
		Version:     req.Version,
		RequestedBy: req.RequestedBy,
	}

	if err := domain.ValidatePromotionPath(req.FromTier, req.ToTier); err != nil {
		return g.reject(ctx, rec, err.Error())
	}
	if req.Version == "" {
		return g.reject(ctx, rec, "no version requested")
	}

	source, err := g.Environments.Get(ctx, req.FromTier)
	if err != nil {
		return domain.PromotionRecord{}, fmt.Errorf("load source tier %s: %w", req.FromTier, err)
	}

	if source.CurrentVersion != req.Version {
		return g.reject(ctx, rec, fmt.Sprintf("tier %s runs %q, not %q",
			req.FromTier, source.CurrentVersion, req.Version))
	}
	if source.CurrentVersion != source.DesiredVersion {
		return g.reject(ctx, rec, fmt.Sprintf("tier %s has a rollout in flight (%s -> %s)",
			req.FromTier, source.CurrentVersion, source.DesiredVersion))
	}
	if !source.FullyHealthy() {
		return g.reject(ctx, rec, fmt.Sprintf("tier %s is not fully healthy", req.FromTier))
	}

	if _, err := g.Artifacts.Resolve(ctx, source.CurrentVersion); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return g.reject(ctx, rec, fmt.Sprintf("version %s has no artifact", source.CurrentVersion))
		}
		return domain.PromotionRecord{}, fmt.Errorf("resolve artifact: %w", err)
	}

	for _, check := range g.Checks {
		if err := check.Run(ctx, source); err != nil {
			return g.reject(ctx, rec, fmt.Sprintf("acceptance check %s: %v", check.Name(), err))
		}
	}

	rec.Outcome = domain.PromotionApproved
	rec.RolloutID = domain.RolloutID(uuid.NewString())
	rec.DecidedAt = g.clock().Now()
	if err := g.Log.Append(ctx, rec); err != nil {
		return domain.PromotionRecord{}, fmt.Errorf("append promotion record: %w", err)
	}
	g.logger().Info("promotion approved",
		"from", req.FromTier, "to", req.ToTier, "version", rec.Version, "rollout_id", rec.RolloutID)

	_, err = g.Deployer.Deploy(ctx, domain.RolloutRequest{
		RolloutID:     rec.RolloutID,
		Tier:          req.ToTier,
		TargetVersion: rec.Version,
		Reason:        fmt.Sprintf("promotion %s from %s", rec.ID, req.FromTier),
	})
	if err != nil {
		// The approval stands in the log; the deploy outcome is its own record of truth.
		return rec, fmt.Errorf("deploy promoted version: %w", err)
	}
	return rec, nil
}

func (g *Gate) reject(ctx context.Context, rec domain.PromotionRecord, reason string) (domain.PromotionRecord, error) {
	rec.Outcome = domain.PromotionRejected
	rec.Reason = reason
	rec.DecidedAt = g.clock().Now()
	if err := g.Log.Append(ctx, rec); err != nil {
		return domain.PromotionRecord{}, fmt.Errorf("append promotion record: %w", err)
	}
	g.logger().Info("promotion rejected",
		"from", rec.FromTier, "to", rec.ToTier, "version", rec.Version, "reason", reason)
	return rec, nil
}
