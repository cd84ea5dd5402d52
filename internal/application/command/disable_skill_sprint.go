package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// DisableSkillSprintCommand switches an assignment off. Disabled is terminal:
// no further penalties, no completion.
type DisableSkillSprintCommand struct {
	AssignmentID string
	Actor        shared.Actor
}

// DisableSkillSprintResult reports whether anything changed.
type DisableSkillSprintResult struct {
	AssignmentID string
	Outcome      shared.Outcome
}

// DisableSkillSprintHandler handles DisableSkillSprintCommand.
type DisableSkillSprintHandler struct {
	deps Deps
}

// NewDisableSkillSprintHandler creates a new DisableSkillSprintHandler.
func NewDisableSkillSprintHandler(deps Deps) *DisableSkillSprintHandler {
	return &DisableSkillSprintHandler{deps: deps.withDefaults()}
}

// Handle disables the assignment. Completed assignments are left alone.
func (h *DisableSkillSprintHandler) Handle(ctx context.Context, cmd DisableSkillSprintCommand) (*DisableSkillSprintResult, error) {
	now := h.deps.Clock.Now()
	res := &DisableSkillSprintResult{AssignmentID: cmd.AssignmentID, Outcome: shared.OutcomeAlreadyProcessed}

	err := h.deps.inTx(ctx, "disable_skill_sprint", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		a, err := repos.Sprints.GetByID(ctx, cmd.AssignmentID)
		if err != nil {
			return err
		}
		if a.IsCompleted() {
			return shared.NewDomainError("sprint", "Disable", shared.ErrInvalidState, "skill sprint is already completed")
		}
		changed, err := repos.Sprints.Disable(ctx, a.ID, now)
		if err != nil {
			return err
		}
		if changed {
			res.Outcome = shared.OutcomeApplied
			rec.Record(shared.NewSprintDisabledEvent(a.StudentID, a.ID, cmd.Actor.ID, now))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("disable_skill_sprint: %w", err)
	}

	if res.Outcome.IsApplied() {
		h.deps.Logger.Info("skill sprint disabled",
			logger.AssignmentID(cmd.AssignmentID),
			logger.ActorID(cmd.Actor.ID),
		)
	}
	return res, nil
}
