package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUST BADGE POINTS COMMAND
// Issues compensating entries after a badge's points_award changed.
// ══════════════════════════════════════════════════════════════════════════════

// AdjustBadgePointsCommand adjusts every holder of a badge to its current value.
type AdjustBadgePointsCommand struct {
	BadgeID string

	// Confirm=false only plans.
	Confirm bool
	Actor   shared.Actor
}

// AdjustBadgePointsResult summarises the run.
type AdjustBadgePointsResult struct {
	BadgeID    string
	Adjusted   int
	TotalDelta int
	DryRun     bool
	Plan       []achievement.Adjustment
	Errors     int
}

// AdjustBadgePointsHandler handles AdjustBadgePointsCommand.
type AdjustBadgePointsHandler struct {
	deps Deps
}

// NewAdjustBadgePointsHandler creates a new AdjustBadgePointsHandler.
func NewAdjustBadgePointsHandler(deps Deps) *AdjustBadgePointsHandler {
	return &AdjustBadgePointsHandler{deps: deps.withDefaults()}
}

// Handle plans and, when confirmed, applies the adjustments one award row at
// a time. A row whose points_awarded moved since planning is left alone, so
// a second run yields no entries. Rows that fail do not stop the others; the
// result is still returned together with an ErrStorage error counting them.
func (h *AdjustBadgePointsHandler) Handle(ctx context.Context, cmd AdjustBadgePointsCommand) (*AdjustBadgePointsResult, error) {
	if cmd.Confirm && !h.deps.Features.IsEnabled(port.FeatureBadgesRetroactiveAdjust) {
		return nil, fmt.Errorf("adjust_badge_points: %w",
			shared.NewDomainError("achievement", "Adjust", shared.ErrForbidden, "retroactive adjustment is disabled"))
	}

	repos := h.deps.Store.Repositories()
	b, err := repos.Achievements.GetBadge(ctx, cmd.BadgeID)
	if err != nil {
		return nil, fmt.Errorf("adjust_badge_points: %w", err)
	}
	awards, err := repos.Achievements.ListAwards(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("adjust_badge_points: %w", err)
	}

	plan := achievement.PlanAdjustments(b.PointsAward, awards)
	res := &AdjustBadgePointsResult{BadgeID: b.ID, Plan: plan, DryRun: !cmd.Confirm}
	if !cmd.Confirm {
		res.Adjusted = len(plan)
		res.TotalDelta = achievement.TotalDelta(plan)
		return res, nil
	}

	now := h.deps.Clock.Now()
	log := h.deps.Logger.With(logger.Operation("adjust_badge_points"), logger.BadgeID(b.ID))

	var failures []error
	for _, adj := range plan {
		var applied bool
		err := h.deps.inTx(ctx, "adjust_badge_points", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
			applied = false
			st, err := lockStudent(ctx, repos, adj.StudentID)
			if err != nil {
				return err
			}
			updated, err := repos.Achievements.UpdateAwardPoints(ctx, adj.StudentID, b.ID, adj.Previous, adj.Target)
			if err != nil || !updated {
				return err
			}

			e, err := ledger.NewEntry(ledger.NewEntryParams{
				ID:         h.deps.NewID(),
				StudentID:  adj.StudentID,
				Points:     adj.Delta,
				Category:   ledger.CategoryBadgeAdjustment,
				Note:       fmt.Sprintf("%s: %d -> %d", b.Name, adj.Previous, adj.Target),
				SourceType: ledger.SourceBadgeAdjustment,
				SourceID:   b.ID,
				CreatedBy:  cmd.Actor.ID,
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}
			if err := appendEntry(ctx, repos, rec, e); err != nil {
				return err
			}
			if _, err := recompute(ctx, repos, rec, st, now); err != nil {
				return err
			}
			rec.Record(shared.NewBadgeAdjustedEvent(adj.StudentID, b.ID, adj.Previous, adj.Target, now))
			applied = true
			return nil
		})
		if err != nil {
			res.Errors++
			failures = append(failures, fmt.Errorf("student %s: %w", adj.StudentID, err))
			log.Error("failed to adjust award", logger.StudentID(adj.StudentID), logger.Err(err))
			continue
		}
		if applied {
			res.Adjusted++
			res.TotalDelta += adj.Delta
		}
	}

	log.Info("badge adjustment finished",
		logger.Int("planned", len(plan)),
		logger.Int("adjusted", res.Adjusted),
		logger.Int("total_delta", res.TotalDelta),
		logger.ActorID(cmd.Actor.ID),
	)
	if len(failures) > 0 {
		return res, fmt.Errorf("adjust_badge_points: %w", shared.WrapError("achievement", "Adjust", shared.ErrStorage,
			fmt.Sprintf("%d of %d adjustments failed", len(failures), len(plan)), errors.Join(failures...)))
	}
	return res, nil
}
