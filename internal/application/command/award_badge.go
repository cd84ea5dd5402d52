package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// awardTx inserts the award row and, when it was new and worth points,
// appends the badge_award entry and recomputes. Shared by the batch pass
// and manual awards so both race on the same unique key.
func awardTx(
	ctx context.Context,
	repos port.Repositories,
	rec *shared.Recorder,
	newID func() string,
	b *achievement.Badge,
	studentID string,
	actor string,
	auto bool,
	now time.Time,
) (shared.Outcome, error) {
	st, err := lockStudent(ctx, repos, studentID)
	if err != nil {
		return "", err
	}

	inserted, err := repos.Achievements.InsertAward(ctx, achievement.Award{
		StudentID:     studentID,
		BadgeID:       b.ID,
		PointsAwarded: b.PointsAward,
		AwardedBy:     actor,
		AwardedAt:     now,
		Auto:          auto,
	})
	if err != nil {
		return "", err
	}
	if !inserted {
		return shared.OutcomeAlreadyProcessed, nil
	}

	rec.Record(shared.NewBadgeAwardedEvent(studentID, b.ID, b.Name, b.PointsAward, auto, now))
	if b.PointsAward == 0 {
		return shared.OutcomeApplied, nil
	}

	e, err := ledger.NewEntry(ledger.NewEntryParams{
		ID:         newID(),
		StudentID:  studentID,
		Points:     b.PointsAward,
		Category:   ledger.CategoryBadgeAward,
		Note:       b.Name,
		SourceType: ledger.SourceBadge,
		SourceID:   b.ID,
		CreatedBy:  actor,
		CreatedAt:  now,
	})
	if err != nil {
		return "", err
	}
	if err := appendEntry(ctx, repos, rec, e); err != nil {
		return "", err
	}
	if _, err := recompute(ctx, repos, rec, st, now); err != nil {
		return "", err
	}
	return shared.OutcomeApplied, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD BADGE COMMAND (manual)
// ══════════════════════════════════════════════════════════════════════════════

// AwardBadgeCommand awards a badge by hand. Prestige badges are allowed here.
type AwardBadgeCommand struct {
	StudentID string
	BadgeID   string
	Actor     shared.Actor
}

// AwardBadgeResult reports the outcome.
type AwardBadgeResult struct {
	StudentID string
	BadgeID   string
	Points    int
	Outcome   shared.Outcome
}

// Err returns ErrAlreadyProcessed when the badge was already held.
func (r *AwardBadgeResult) Err() error {
	return r.Outcome.Err("achievement", "Award")
}

// AwardBadgeHandler handles AwardBadgeCommand.
type AwardBadgeHandler struct {
	deps Deps
}

// NewAwardBadgeHandler creates a new AwardBadgeHandler.
func NewAwardBadgeHandler(deps Deps) *AwardBadgeHandler {
	return &AwardBadgeHandler{deps: deps.withDefaults()}
}

// Handle awards the badge once.
func (h *AwardBadgeHandler) Handle(ctx context.Context, cmd AwardBadgeCommand) (*AwardBadgeResult, error) {
	if _, err := shared.NewStudentID(cmd.StudentID); err != nil {
		return nil, fmt.Errorf("award_badge: %w", err)
	}

	now := h.deps.Clock.Now()
	res := &AwardBadgeResult{StudentID: cmd.StudentID, BadgeID: cmd.BadgeID}

	err := h.deps.inTx(ctx, "award_badge", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		b, err := repos.Achievements.GetBadge(ctx, cmd.BadgeID)
		if err != nil {
			return err
		}
		if !b.Enabled {
			return shared.ErrBadgeDisabled
		}
		res.Points = b.PointsAward
		res.Outcome, err = awardTx(ctx, repos, rec, h.deps.NewID, b, cmd.StudentID, cmd.Actor.ID, false, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("award_badge: %w", err)
	}

	h.deps.Logger.Info("badge awarded manually",
		logger.BadgeID(cmd.BadgeID),
		logger.StudentID(cmd.StudentID),
		logger.ActorID(cmd.Actor.ID),
		logger.String("outcome", string(res.Outcome)),
	)
	return res, nil
}
