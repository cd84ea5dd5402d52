package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
	"github.com/alem-hub/points-ledger/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN ACHIEVEMENT PASS COMMAND
// Batch-awards enabled, non-prestige badges to every newly eligible student.
// ══════════════════════════════════════════════════════════════════════════════

// RunAchievementPassCommand runs one evaluator pass.
type RunAchievementPassCommand struct {
	// Actor is recorded as awarded_by. Defaults to the system actor.
	Actor shared.Actor
}

// RunAchievementPassResult summarises a pass.
type RunAchievementPassResult struct {
	Awarded         int
	AlreadyAwarded  int
	BadgesEvaluated int
	BadgesSkipped   int
	Errors          int
	Skipped         bool // another instance holds the job lock
}

// RunAchievementPassHandler handles RunAchievementPassCommand.
type RunAchievementPassHandler struct {
	deps    Deps
	retrier retry.Policy
}

// NewRunAchievementPassHandler creates a new RunAchievementPassHandler.
func NewRunAchievementPassHandler(deps Deps) *RunAchievementPassHandler {
	return &RunAchievementPassHandler{
		deps:    deps.withDefaults(),
		retrier: retry.Storage(shared.IsRetryable),
	}
}

// Handle evaluates every auto-awardable badge. Badges whose stored criteria do
// not validate are skipped with a warning.
func (h *RunAchievementPassHandler) Handle(ctx context.Context, cmd RunAchievementPassCommand) (*RunAchievementPassResult, error) {
	res := &RunAchievementPassResult{}
	ran, err := h.deps.withJobLock(ctx, "award_achievements", func(ctx context.Context) error {
		return h.run(ctx, cmd, res)
	})
	res.Skipped = !ran
	if err != nil {
		return res, fmt.Errorf("run_achievement_pass: %w", err)
	}
	return res, nil
}

func (h *RunAchievementPassHandler) run(ctx context.Context, cmd RunAchievementPassCommand, res *RunAchievementPassResult) error {
	now := h.deps.Clock.Now()
	actor := cmd.Actor.OrDefault(shared.SystemActor(""))
	log := h.deps.Logger.With(logger.Operation("run_achievement_pass"))
	repos := h.deps.Store.Repositories()

	badges, err := repos.Achievements.ListAutoAwardable(ctx)
	if err != nil {
		return err
	}

	for _, b := range badges {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Criteria.Validate(); err != nil {
			res.BadgesSkipped++
			log.Warn("skipping badge with invalid criteria", logger.BadgeID(b.ID), logger.Err(err))
			continue
		}
		res.BadgesEvaluated++

		candidates, err := repos.Achievements.FindCandidates(ctx, b)
		if err != nil {
			res.Errors++
			log.Error("failed to find candidates", logger.BadgeID(b.ID), logger.Err(err))
			continue
		}

		for _, studentID := range candidates {
			var outcome shared.Outcome
			err := h.retrier.Do(ctx, func(ctx context.Context) error {
				return h.deps.inTx(ctx, "auto_award", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
					var err error
					outcome, err = awardTx(ctx, repos, rec, h.deps.NewID, b, studentID, actor.ID, true, now)
					return err
				})
			})
			if err != nil {
				res.Errors++
				log.Error("failed to award badge",
					logger.BadgeID(b.ID),
					logger.StudentID(studentID),
					logger.Err(err),
				)
				continue
			}
			if outcome.IsApplied() {
				res.Awarded++
			} else {
				res.AlreadyAwarded++
			}
		}
	}

	log.Info("achievement pass finished",
		logger.Int("awarded", res.Awarded),
		logger.Int("badges_evaluated", res.BadgesEvaluated),
		logger.Int("badges_skipped", res.BadgesSkipped),
		logger.Int("errors", res.Errors),
	)
	finished := h.deps.Clock.Now()
	h.deps.publish(shared.NewJobCompletedEvent("award_achievements", res.Awarded, res.Errors, finished.Sub(now), finished))
	return nil
}
