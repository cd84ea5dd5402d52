package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPEND LEDGER ENTRY COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// AppendLedgerEntryCommand appends one signed delta to a student's ledger.
type AppendLedgerEntryCommand struct {
	StudentID  string
	Points     int
	Category   ledger.Category
	SourceType string
	SourceID   string
	Note       string
	CreatedBy  string
}

// Validate validates the command.
func (c AppendLedgerEntryCommand) Validate() error {
	if _, err := shared.NewStudentID(c.StudentID); err != nil {
		return err
	}
	if c.Category == "" {
		return shared.ErrInvalidCategory
	}
	return nil
}

// AppendLedgerEntryResult contains the new entry id and the fresh balances.
type AppendLedgerEntryResult struct {
	EntryID  string
	Balances ledger.Balances
}

// AppendLedgerEntryHandler handles AppendLedgerEntryCommand.
type AppendLedgerEntryHandler struct {
	deps Deps
}

// NewAppendLedgerEntryHandler creates a new AppendLedgerEntryHandler.
func NewAppendLedgerEntryHandler(deps Deps) *AppendLedgerEntryHandler {
	return &AppendLedgerEntryHandler{deps: deps.withDefaults()}
}

// Handle appends the entry and recomputes balances in one transaction.
func (h *AppendLedgerEntryHandler) Handle(ctx context.Context, cmd AppendLedgerEntryCommand) (*AppendLedgerEntryResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("append_ledger_entry: %w", err)
	}

	now := h.deps.Clock.Now()
	entry, err := ledger.NewEntry(ledger.NewEntryParams{
		ID:         h.deps.NewID(),
		StudentID:  cmd.StudentID,
		Points:     cmd.Points,
		Category:   cmd.Category,
		Note:       cmd.Note,
		SourceType: cmd.SourceType,
		SourceID:   cmd.SourceID,
		CreatedBy:  cmd.CreatedBy,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("append_ledger_entry: %w", err)
	}

	var balances ledger.Balances
	err = h.deps.inTx(ctx, "append_ledger_entry", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		var err error
		balances, err = appendAndRecompute(ctx, repos, rec, entry, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("append_ledger_entry: %w", err)
	}

	h.deps.Logger.Info("ledger entry appended",
		logger.StudentID(entry.StudentID),
		logger.EntryID(entry.ID),
		logger.Points(entry.Points),
		logger.Category(entry.Category.String()),
	)

	return &AppendLedgerEntryResult{EntryID: entry.ID, Balances: balances}, nil
}
