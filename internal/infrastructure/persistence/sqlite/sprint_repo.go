package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/sprint"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

type sprintRepo struct {
	q querier
}

var _ sprint.Repository = (*sprintRepo)(nil)

const sprintColumns = `id, student_id, source_label, assigned_at, due_at,
	reward_points, penalty_points_per_day, requested_penalty_points_per_day,
	charged_days, last_penalty_at, completed_at, completed_by, awarded_points,
	enabled, assigned_by, created_at, updated_at`

func (r *sprintRepo) Create(ctx context.Context, a *sprint.Assignment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO skill_sprints (`+sprintColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StudentID, a.SourceLabel, millis(a.AssignedAt), millis(a.DueAt),
		a.RewardPoints, a.PenaltyPointsPerDay, a.RequestedPenaltyPointsPerDay,
		a.ChargedDays, nullMillis(a.LastPenaltyAt), nullMillis(a.CompletedAt), a.CompletedBy, a.AwardedPoints,
		boolInt(a.Enabled), a.AssignedBy, millis(a.CreatedAt), millis(a.UpdatedAt),
	)
	if err != nil {
		return classify("sprint", "Create", err)
	}
	return nil
}

func (r *sprintRepo) GetByID(ctx context.Context, id string) (*sprint.Assignment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM skill_sprints WHERE id = ?`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, classify("sprint", "GetByID", err)
	}
	return a, nil
}

func (r *sprintRepo) ListDueForPenalty(ctx context.Context, now time.Time, studentID string) ([]*sprint.Assignment, error) {
	query := `
		SELECT ` + sprintColumns + ` FROM skill_sprints
		WHERE enabled = 1
		  AND completed_at IS NULL
		  AND assigned_at + (charged_days + 1) * ? <= ?`
	args := []any{timeutil.DayMillis, millis(now)}
	if studentID != "" {
		query += ` AND student_id = ?`
		args = append(args, studentID)
	}
	query += ` ORDER BY assigned_at, id`
	return r.list(ctx, "ListDueForPenalty", query, args...)
}

func (r *sprintRepo) InsertCharge(ctx context.Context, c sprint.Charge) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO skill_sprint_penalty_charges (assignment_id, day_index, ledger_entry_id, charged_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (assignment_id, day_index) DO NOTHING`,
		c.AssignmentID, c.DayIndex, nullString(c.LedgerEntryID), millis(c.ChargedAt),
	)
	if err != nil {
		return false, classify("sprint", "InsertCharge", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *sprintRepo) ListCharges(ctx context.Context, assignmentID string) ([]sprint.Charge, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT assignment_id, day_index, ledger_entry_id, charged_at
		FROM skill_sprint_penalty_charges
		WHERE assignment_id = ?
		ORDER BY day_index`, assignmentID)
	if err != nil {
		return nil, classify("sprint", "ListCharges", err)
	}
	defer rows.Close()

	var out []sprint.Charge
	for rows.Next() {
		var (
			c       sprint.Charge
			entryID sql.NullString
			at      int64
		)
		if err := rows.Scan(&c.AssignmentID, &c.DayIndex, &entryID, &at); err != nil {
			return nil, classify("sprint", "ListCharges", err)
		}
		c.LedgerEntryID = entryID.String
		c.ChargedAt = fromMillis(at)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sprint", "ListCharges", err)
	}
	return out, nil
}

func (r *sprintRepo) AdvanceCharged(ctx context.Context, id string, day int, lastPenaltyAt, now time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE skill_sprints
		SET charged_days = MAX(charged_days, ?),
		    last_penalty_at = CASE WHEN charged_days < ? THEN ? ELSE last_penalty_at END,
		    updated_at = ?
		WHERE id = ?`,
		day, day, millis(lastPenaltyAt), millis(now), id,
	)
	if err != nil {
		return classify("sprint", "AdvanceCharged", err)
	}
	return nil
}

func (r *sprintRepo) MarkCompleted(ctx context.Context, a *sprint.Assignment) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE skill_sprints
		SET completed_at = ?, completed_by = ?, awarded_points = ?, updated_at = ?
		WHERE id = ? AND completed_at IS NULL AND enabled = 1`,
		nullMillis(a.CompletedAt), a.CompletedBy, a.AwardedPoints, millis(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return false, classify("sprint", "MarkCompleted", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *sprintRepo) Disable(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE skill_sprints SET enabled = 0, updated_at = ?
		WHERE id = ? AND enabled = 1`, millis(now), id)
	if err != nil {
		return false, classify("sprint", "Disable", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *sprintRepo) list(ctx context.Context, op, query string, args ...any) ([]*sprint.Assignment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("sprint", op, err)
	}
	defer rows.Close()

	var out []*sprint.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, classify("sprint", op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sprint", op, err)
	}
	return out, nil
}

func scanAssignment(row rowScanner) (*sprint.Assignment, error) {
	var (
		a                               sprint.Assignment
		assigned, due, created, updated int64
		lastPenalty, completed          sql.NullInt64
		enabled                         int
	)
	if err := row.Scan(
		&a.ID, &a.StudentID, &a.SourceLabel, &assigned, &due,
		&a.RewardPoints, &a.PenaltyPointsPerDay, &a.RequestedPenaltyPointsPerDay,
		&a.ChargedDays, &lastPenalty, &completed, &a.CompletedBy, &a.AwardedPoints,
		&enabled, &a.AssignedBy, &created, &updated,
	); err != nil {
		return nil, err
	}
	a.AssignedAt = fromMillis(assigned)
	a.DueAt = fromMillis(due)
	a.LastPenaltyAt = timePtr(lastPenalty)
	a.CompletedAt = timePtr(completed)
	a.Enabled = enabled != 0
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}
