package command

import (
	"context"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER PRIMITIVES
// Shared by every mutation path. Callers must already be inside a transaction.
// ══════════════════════════════════════════════════════════════════════════════

// lockStudent loads the student row and, on stores that support it, locks it
// until commit so recomputes for one student serialise.
func lockStudent(ctx context.Context, repos port.Repositories, studentID string) (*student.Student, error) {
	st, err := repos.Students.GetForUpdate(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// appendEntry writes one ledger entry and records the event.
func appendEntry(ctx context.Context, repos port.Repositories, rec *shared.Recorder, e *ledger.Entry) error {
	if err := repos.Ledger.Append(ctx, e); err != nil {
		return err
	}
	rec.Record(shared.NewEntryAppendedEvent(e.StudentID, e.ID, e.Points, e.Category.String(), e.CreatedAt))
	return nil
}

// recompute aggregates the student's ledger and stores the result.
// st must have been loaded with lockStudent in the same transaction.
func recompute(ctx context.Context, repos port.Repositories, rec *shared.Recorder, st *student.Student, now time.Time) (ledger.Balances, error) {
	sums, err := repos.Ledger.SumByCategory(ctx, st.ID)
	if err != nil {
		return ledger.Balances{}, err
	}

	b := ledger.Aggregate(sums, st.Balances.LifetimePoints)
	if err := repos.Students.UpdateBalances(ctx, st.ID, b, now); err != nil {
		return ledger.Balances{}, err
	}
	st.Balances = b
	st.UpdatedAt = now

	rec.Record(shared.NewBalancesRecomputedEvent(st.ID, b.PointsTotal, b.PointsBalance, b.LifetimePoints, b.Level(), now))
	return b, nil
}

// appendAndRecompute is the compound primitive: lock, append, recompute.
func appendAndRecompute(ctx context.Context, repos port.Repositories, rec *shared.Recorder, e *ledger.Entry, now time.Time) (ledger.Balances, error) {
	st, err := lockStudent(ctx, repos, e.StudentID)
	if err != nil {
		return ledger.Balances{}, err
	}
	if err := appendEntry(ctx, repos, rec, e); err != nil {
		return ledger.Balances{}, err
	}
	return recompute(ctx, repos, rec, st, now)
}
