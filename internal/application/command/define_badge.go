package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// DefineBadgeCommand creates or updates a badge. The criteria may arrive in
// any of the legacy payload shapes; they are normalised before storage.
type DefineBadgeCommand struct {
	// BadgeID is empty when creating.
	BadgeID string

	Name            string
	Description     string
	CriteriaType    string
	CriteriaPayload map[string]any
	PointsAward     int
	Enabled         bool
	Prestige        bool
	Actor           shared.Actor
}

func (c DefineBadgeCommand) params() (achievement.BadgeParams, error) {
	criteria, err := achievement.ParseCriteria(c.CriteriaType, c.CriteriaPayload)
	if err != nil {
		return achievement.BadgeParams{}, err
	}
	return achievement.BadgeParams{
		ID:          c.BadgeID,
		Name:        c.Name,
		Description: c.Description,
		Criteria:    criteria,
		PointsAward: c.PointsAward,
		Enabled:     c.Enabled,
		Prestige:    c.Prestige,
	}, nil
}

// DefineBadgeHandler handles badge creation and updates.
type DefineBadgeHandler struct {
	deps Deps
}

// NewDefineBadgeHandler creates a new DefineBadgeHandler.
func NewDefineBadgeHandler(deps Deps) *DefineBadgeHandler {
	return &DefineBadgeHandler{deps: deps.withDefaults()}
}

// Create stores a new badge.
func (h *DefineBadgeHandler) Create(ctx context.Context, cmd DefineBadgeCommand) (*achievement.Badge, error) {
	p, err := cmd.params()
	if err != nil {
		return nil, fmt.Errorf("define_badge: %w", err)
	}
	now := h.deps.Clock.Now()
	p.ID = h.deps.NewID()
	p.Now = now

	b, err := achievement.NewBadge(p)
	if err != nil {
		return nil, fmt.Errorf("define_badge: %w", err)
	}

	err = h.deps.inTx(ctx, "define_badge", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		if err := repos.Achievements.CreateBadge(ctx, b); err != nil {
			return err
		}
		rec.Record(shared.NewBadgeDefinedEvent(b.ID, b.Name, b.Criteria.String(), now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("define_badge: %w", err)
	}

	h.deps.Logger.Info("badge defined", logger.BadgeID(b.ID), logger.String("criteria", b.Criteria.String()))
	return b, nil
}

// Update rewrites an existing badge. Changing points_award does not touch
// past awards; run the retroactive adjuster for that.
func (h *DefineBadgeHandler) Update(ctx context.Context, cmd DefineBadgeCommand) (*achievement.Badge, error) {
	p, err := cmd.params()
	if err != nil {
		return nil, fmt.Errorf("update_badge: %w", err)
	}
	now := h.deps.Clock.Now()
	p.Now = now

	var b *achievement.Badge
	err = h.deps.inTx(ctx, "update_badge", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		var err error
		b, err = repos.Achievements.GetBadge(ctx, cmd.BadgeID)
		if err != nil {
			return err
		}
		if err := b.Apply(p); err != nil {
			return err
		}
		if err := repos.Achievements.UpdateBadge(ctx, b); err != nil {
			return err
		}
		rec.Record(shared.NewBadgeDefinedEvent(b.ID, b.Name, b.Criteria.String(), now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update_badge: %w", err)
	}

	h.deps.Logger.Info("badge updated", logger.BadgeID(b.ID), logger.Int("points_award", b.PointsAward))
	return b, nil
}
