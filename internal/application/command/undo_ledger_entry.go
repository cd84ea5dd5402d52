package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// UndoLedgerEntryCommand deletes one ledger entry.
type UndoLedgerEntryCommand struct {
	EntryID string
	Actor   shared.Actor
}

// UndoLedgerEntryResult reports what was removed.
type UndoLedgerEntryResult struct {
	EntryID   string
	StudentID string
	Points    int
	Balances  ledger.Balances
}

// UndoLedgerEntryHandler handles UndoLedgerEntryCommand.
type UndoLedgerEntryHandler struct {
	deps Deps
}

// NewUndoLedgerEntryHandler creates a new UndoLedgerEntryHandler.
func NewUndoLedgerEntryHandler(deps Deps) *UndoLedgerEntryHandler {
	return &UndoLedgerEntryHandler{deps: deps.withDefaults()}
}

// Handle deletes the entry and recomputes the owner's balances.
func (h *UndoLedgerEntryHandler) Handle(ctx context.Context, cmd UndoLedgerEntryCommand) (*UndoLedgerEntryResult, error) {
	if cmd.EntryID == "" {
		return nil, fmt.Errorf("undo_ledger_entry: %w", shared.NewDomainError("ledger", "Undo", shared.ErrInvalidID, "entry id is required"))
	}

	now := h.deps.Clock.Now()
	res := &UndoLedgerEntryResult{EntryID: cmd.EntryID}

	err := h.deps.inTx(ctx, "undo_ledger_entry", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		e, err := repos.Ledger.GetByID(ctx, cmd.EntryID)
		if err != nil {
			return err
		}
		st, err := lockStudent(ctx, repos, e.StudentID)
		if err != nil {
			return err
		}
		if err := repos.Ledger.Delete(ctx, e.ID); err != nil {
			return err
		}
		rec.Record(shared.NewEntryDeletedEvent(e.StudentID, e.ID, e.Points, now))

		b, err := recompute(ctx, repos, rec, st, now)
		if err != nil {
			return err
		}
		res.StudentID = e.StudentID
		res.Points = e.Points
		res.Balances = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("undo_ledger_entry: %w", err)
	}

	h.deps.Logger.Info("ledger entry undone",
		logger.EntryID(res.EntryID),
		logger.StudentID(res.StudentID),
		logger.ActorID(cmd.Actor.ID),
	)
	return res, nil
}
