package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/sprint"
	"github.com/alem-hub/points-ledger/pkg/logger"
	"github.com/alem-hub/points-ledger/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESS PENALTIES COMMAND
// Charges at most one penalty per (assignment, day index). The penalty_charges
// unique key makes concurrent runs converge on a single charge.
// ══════════════════════════════════════════════════════════════════════════════

// ProcessPenaltiesCommand runs one penalty pass.
type ProcessPenaltiesCommand struct {
	// StudentID restricts the pass to one student. Empty means everyone.
	StudentID string
}

// ProcessPenaltiesResult summarises a pass.
type ProcessPenaltiesResult struct {
	PenaltiesApplied   int
	AssignmentsScanned int
	AlreadyCharged     int
	PointsCharged      int
	Errors             int
	Skipped            bool // another instance holds the job lock
}

// ProcessPenaltiesHandler handles ProcessPenaltiesCommand.
type ProcessPenaltiesHandler struct {
	deps    Deps
	retrier retry.Policy
}

// NewProcessPenaltiesHandler creates a new ProcessPenaltiesHandler.
func NewProcessPenaltiesHandler(deps Deps) *ProcessPenaltiesHandler {
	return &ProcessPenaltiesHandler{
		deps:    deps.withDefaults(),
		retrier: retry.Storage(shared.IsRetryable),
	}
}

// Handle scans the working set and charges every pending day. Failures are
// logged per day and counted; the pass carries on with the next assignment.
func (h *ProcessPenaltiesHandler) Handle(ctx context.Context, cmd ProcessPenaltiesCommand) (*ProcessPenaltiesResult, error) {
	res := &ProcessPenaltiesResult{}
	ran, err := h.deps.withJobLock(ctx, "charge_penalties", func(ctx context.Context) error {
		return h.run(ctx, cmd, res)
	})
	res.Skipped = !ran
	if err != nil {
		return res, fmt.Errorf("process_penalties: %w", err)
	}
	return res, nil
}

func (h *ProcessPenaltiesHandler) run(ctx context.Context, cmd ProcessPenaltiesCommand, res *ProcessPenaltiesResult) error {
	now := h.deps.Clock.Now()
	log := h.deps.Logger.With(logger.Operation("process_penalties"))

	due, err := h.deps.Store.Repositories().Sprints.ListDueForPenalty(ctx, now, cmd.StudentID)
	if err != nil {
		return err
	}

	res.AssignmentsScanned = len(due)
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
	days:
		for _, day := range a.PenaltyPlan(now) {
			var outcome chargeOutcome
			err := h.retrier.Do(ctx, func(ctx context.Context) error {
				var err error
				outcome, err = h.chargeDay(ctx, a, day, now)
				return err
			})
			if err != nil {
				res.Errors++
				log.Error("failed to charge penalty day",
					logger.AssignmentID(a.ID),
					logger.StudentID(a.StudentID),
					logger.Int("day", day),
					logger.Err(err),
				)
				break
			}
			switch outcome {
			case chargeTerminal:
				break days
			case chargeDuplicate:
				res.AlreadyCharged++
				continue
			}
			if a.PenaltyPointsPerDay > 0 {
				res.PenaltiesApplied++
				res.PointsCharged += a.PenaltyPointsPerDay
			}
		}
	}

	log.Info("penalty pass finished",
		logger.Int("scanned", res.AssignmentsScanned),
		logger.Int("applied", res.PenaltiesApplied),
		logger.Int("already_charged", res.AlreadyCharged),
		logger.Int("errors", res.Errors),
	)
	finished := h.deps.Clock.Now()
	h.deps.publish(shared.NewJobCompletedEvent("charge_penalties", res.PenaltiesApplied, res.Errors, finished.Sub(now), finished))
	return nil
}

type chargeOutcome int

const (
	chargeApplied chargeOutcome = iota
	chargeDuplicate
	chargeTerminal
)

// chargeDay charges one day inside its own transaction.
func (h *ProcessPenaltiesHandler) chargeDay(ctx context.Context, a *sprint.Assignment, day int, now time.Time) (chargeOutcome, error) {
	outcome := chargeApplied
	err := h.deps.inTx(ctx, "charge_penalty", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		outcome = chargeApplied

		st, err := lockStudent(ctx, repos, a.StudentID)
		if err != nil {
			return err
		}
		current, err := repos.Sprints.GetByID(ctx, a.ID)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			outcome = chargeTerminal
			return nil
		}

		var entry *ledger.Entry
		if current.PenaltyPointsPerDay > 0 {
			entry, err = ledger.NewEntry(ledger.NewEntryParams{
				ID:         h.deps.NewID(),
				StudentID:  current.StudentID,
				Points:     -current.PenaltyPointsPerDay,
				Category:   ledger.CategorySkillSprintPenalty,
				Note:       fmt.Sprintf("%s: day %d", current.SourceLabel, day),
				SourceType: ledger.SourceSkillSprintPenalty,
				SourceID:   current.PenaltySourceID(day),
				CreatedBy:  "system",
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}
		}

		charge := sprint.Charge{AssignmentID: current.ID, DayIndex: day, ChargedAt: now}
		if entry != nil {
			charge.LedgerEntryID = entry.ID
		}
		inserted, err := repos.Sprints.InsertCharge(ctx, charge)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = chargeDuplicate
			return nil
		}

		if entry != nil {
			if err := appendEntry(ctx, repos, rec, entry); err != nil {
				return err
			}
		}
		current.ApplyCharge(day, now)
		if err := repos.Sprints.AdvanceCharged(ctx, current.ID, day, current.PenaltyBoundary(day), now); err != nil {
			return err
		}
		if entry != nil {
			if _, err := recompute(ctx, repos, rec, st, now); err != nil {
				return err
			}
		}

		rec.Record(shared.NewPenaltyChargedEvent(current.StudentID, current.ID, day, current.PenaltyPointsPerDay, now))
		return nil
	})
	return outcome, err
}
