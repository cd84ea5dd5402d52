package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// CompleteSkillSprintCommand completes an assignment.
type CompleteSkillSprintCommand struct {
	AssignmentID string
	CompletedBy  string
}

// CompleteSkillSprintResult reports the awarded reward.
type CompleteSkillSprintResult struct {
	AssignmentID        string
	StudentID           string
	RewardPointsAwarded int
	Outcome             shared.Outcome
	Balances            *ledger.Balances
}

// Err returns ErrAlreadyProcessed for a repeated completion.
func (r *CompleteSkillSprintResult) Err() error {
	return r.Outcome.Err("sprint", "Complete")
}

// CompleteSkillSprintHandler handles CompleteSkillSprintCommand.
type CompleteSkillSprintHandler struct {
	deps Deps
}

// NewCompleteSkillSprintHandler creates a new CompleteSkillSprintHandler.
func NewCompleteSkillSprintHandler(deps Deps) *CompleteSkillSprintHandler {
	return &CompleteSkillSprintHandler{deps: deps.withDefaults()}
}

// Handle awards the decayed reward once. Completing twice is not an error; the
// second call reports already_processed with the original reward.
func (h *CompleteSkillSprintHandler) Handle(ctx context.Context, cmd CompleteSkillSprintCommand) (*CompleteSkillSprintResult, error) {
	if cmd.AssignmentID == "" {
		return nil, fmt.Errorf("complete_skill_sprint: %w",
			shared.NewDomainError("sprint", "Complete", shared.ErrInvalidID, "assignment id is required"))
	}

	now := h.deps.Clock.Now()
	res := &CompleteSkillSprintResult{AssignmentID: cmd.AssignmentID}

	err := h.deps.inTx(ctx, "complete_skill_sprint", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		a, err := repos.Sprints.GetByID(ctx, cmd.AssignmentID)
		if err != nil {
			return err
		}
		res.StudentID = a.StudentID

		if a.IsCompleted() {
			res.Outcome = shared.OutcomeAlreadyProcessed
			res.RewardPointsAwarded = a.AwardedPoints
			return nil
		}
		if err := a.CheckCompletable(); err != nil {
			return err
		}

		st, err := lockStudent(ctx, repos, a.StudentID)
		if err != nil {
			return err
		}

		reward := a.Complete(cmd.CompletedBy, now)
		updated, err := repos.Sprints.MarkCompleted(ctx, a)
		if err != nil {
			return err
		}
		if !updated {
			// Lost a race with another completion.
			current, err := repos.Sprints.GetByID(ctx, a.ID)
			if err != nil {
				return err
			}
			res.Outcome = shared.OutcomeAlreadyProcessed
			res.RewardPointsAwarded = current.AwardedPoints
			return nil
		}

		res.Outcome = shared.OutcomeApplied
		res.RewardPointsAwarded = reward
		rec.Record(shared.NewSprintCompletedEvent(a.StudentID, a.ID, reward, cmd.CompletedBy, now))

		if reward > 0 {
			e, err := ledger.NewEntry(ledger.NewEntryParams{
				ID:         h.deps.NewID(),
				StudentID:  a.StudentID,
				Points:     reward,
				Category:   ledger.CategorySkillSprintComplete,
				Note:       a.SourceLabel,
				SourceType: ledger.SourceSkillSprint,
				SourceID:   a.ID,
				CreatedBy:  cmd.CompletedBy,
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}
			if err := appendEntry(ctx, repos, rec, e); err != nil {
				return err
			}
		}

		b, err := recompute(ctx, repos, rec, st, now)
		if err != nil {
			return err
		}
		res.Balances = &b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete_skill_sprint: %w", err)
	}

	h.deps.Logger.Info("skill sprint completion",
		logger.AssignmentID(res.AssignmentID),
		logger.StudentID(res.StudentID),
		logger.Points(res.RewardPointsAwarded),
		logger.String("outcome", string(res.Outcome)),
	)
	return res, nil
}
