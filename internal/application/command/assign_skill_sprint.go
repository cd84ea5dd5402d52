package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/sprint"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGN SKILL SPRINT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// AssignSkillSprintCommand creates a decaying, penalised challenge.
type AssignSkillSprintCommand struct {
	StudentID           string
	Label               string
	DueAt               time.Time
	RewardPoints        int
	PenaltyPointsPerDay int
	AssignedBy          string
}

// AssignSkillSprintConfig configures the handler.
type AssignSkillSprintConfig struct {
	// PenaltyCapPercent caps the daily penalty relative to the balance.
	PenaltyCapPercent int
}

// AssignSkillSprintHandler handles AssignSkillSprintCommand.
type AssignSkillSprintHandler struct {
	deps   Deps
	config AssignSkillSprintConfig
}

// NewAssignSkillSprintHandler creates a new AssignSkillSprintHandler.
func NewAssignSkillSprintHandler(deps Deps, config AssignSkillSprintConfig) *AssignSkillSprintHandler {
	if config.PenaltyCapPercent <= 0 {
		config.PenaltyCapPercent = sprint.DefaultPenaltyCapPercent
	}
	return &AssignSkillSprintHandler{deps: deps.withDefaults(), config: config}
}

// Handle validates, caps the penalty against the current balance, and stores
// the assignment.
func (h *AssignSkillSprintHandler) Handle(ctx context.Context, cmd AssignSkillSprintCommand) (*sprint.Assignment, error) {
	now := h.deps.Clock.Now()
	var a *sprint.Assignment

	err := h.deps.inTx(ctx, "assign_skill_sprint", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		if _, err := shared.NewStudentID(cmd.StudentID); err != nil {
			return err
		}
		st, err := lockStudent(ctx, repos, cmd.StudentID)
		if err != nil {
			return err
		}

		a, err = sprint.NewAssignment(sprint.NewAssignmentParams{
			ID:                  h.deps.NewID(),
			StudentID:           st.ID,
			SourceLabel:         cmd.Label,
			DueAt:               cmd.DueAt,
			RewardPoints:        cmd.RewardPoints,
			PenaltyPointsPerDay: cmd.PenaltyPointsPerDay,
			AssignedBy:          cmd.AssignedBy,
			StudentBalance:      st.Balances.PointsBalance,
			CapPercent:          h.config.PenaltyCapPercent,
			Now:                 now,
		})
		if err != nil {
			return err
		}
		if err := repos.Sprints.Create(ctx, a); err != nil {
			return err
		}

		rec.Record(shared.NewSprintAssignedEvent(a.StudentID, a.ID, a.DueAt,
			a.RewardPoints, a.PenaltyPointsPerDay, a.RequestedPenaltyPointsPerDay, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assign_skill_sprint: %w", err)
	}

	if a.PenaltyPointsPerDay < a.RequestedPenaltyPointsPerDay {
		h.deps.Logger.Info("sprint penalty capped",
			logger.AssignmentID(a.ID),
			logger.StudentID(a.StudentID),
			logger.Int("requested", a.RequestedPenaltyPointsPerDay),
			logger.Int("applied", a.PenaltyPointsPerDay),
		)
	}
	return a, nil
}
