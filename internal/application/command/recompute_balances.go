package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// RecomputeBalancesCommand re-derives a student's balances from the ledger.
// Useful for convergence after edits made outside the engine.
type RecomputeBalancesCommand struct {
	StudentID string
}

// RecomputeBalancesResult holds the stored balances.
type RecomputeBalancesResult struct {
	StudentID string
	Balances  ledger.Balances
	Level     int
}

// RecomputeBalancesHandler handles RecomputeBalancesCommand.
type RecomputeBalancesHandler struct {
	deps Deps
}

// NewRecomputeBalancesHandler creates a new RecomputeBalancesHandler.
func NewRecomputeBalancesHandler(deps Deps) *RecomputeBalancesHandler {
	return &RecomputeBalancesHandler{deps: deps.withDefaults()}
}

// Handle recomputes and stores the balances.
func (h *RecomputeBalancesHandler) Handle(ctx context.Context, cmd RecomputeBalancesCommand) (*RecomputeBalancesResult, error) {
	id, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("recompute_balances: %w", err)
	}

	now := h.deps.Clock.Now()
	var b ledger.Balances
	err = h.deps.inTx(ctx, "recompute_balances", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		st, err := lockStudent(ctx, repos, id.String())
		if err != nil {
			return err
		}
		b, err = recompute(ctx, repos, rec, st, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("recompute_balances: %w", err)
	}

	return &RecomputeBalancesResult{StudentID: id.String(), Balances: b, Level: b.Level()}, nil
}
