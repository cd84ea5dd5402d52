package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/sprint"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKILL SPRINT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SprintRepository implements sprint.Repository for PostgreSQL.
type SprintRepository struct {
	q Querier
}

var _ sprint.Repository = (*SprintRepository)(nil)

const sprintColumns = `id, student_id, source_label, assigned_at, due_at,
	reward_points, penalty_points_per_day, requested_penalty_points_per_day,
	charged_days, last_penalty_at, completed_at, completed_by, awarded_points,
	enabled, assigned_by, created_at, updated_at`

// Create stores a new assignment.
func (r *SprintRepository) Create(ctx context.Context, a *sprint.Assignment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO skill_sprints (`+sprintColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		a.ID, a.StudentID, a.SourceLabel, a.AssignedAt, a.DueAt,
		a.RewardPoints, a.PenaltyPointsPerDay, a.RequestedPenaltyPointsPerDay,
		a.ChargedDays, a.LastPenaltyAt, a.CompletedAt, a.CompletedBy, a.AwardedPoints,
		a.Enabled, a.AssignedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrStudentNotFound
		}
		return classify("sprint", "Create", err)
	}
	return nil
}

// GetByID returns one assignment.
func (r *SprintRepository) GetByID(ctx context.Context, id string) (*sprint.Assignment, error) {
	a, err := scanAssignment(r.q.QueryRow(ctx, `SELECT `+sprintColumns+` FROM skill_sprints WHERE id = $1`, id))
	if IsNoRows(err) {
		return nil, shared.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, classify("sprint", "GetByID", err)
	}
	return a, nil
}

// ListDueForPenalty returns open assignments with at least one whole
// uncharged day behind them. Day boundaries are fixed 24h steps from
// assigned_at, never calendar days.
func (r *SprintRepository) ListDueForPenalty(ctx context.Context, now time.Time, studentID string) ([]*sprint.Assignment, error) {
	query := `
		SELECT ` + sprintColumns + ` FROM skill_sprints
		WHERE enabled
		  AND completed_at IS NULL
		  AND assigned_at + (charged_days + 1) * INTERVAL '24 hours' <= $1`
	args := []any{now}
	if studentID != "" {
		args = append(args, studentID)
		query += fmt.Sprintf(` AND student_id = $%d`, len(args))
	}
	query += ` ORDER BY assigned_at, id`
	return r.list(ctx, "ListDueForPenalty", query, args...)
}

// InsertCharge claims one penalty day; false when it was already claimed.
func (r *SprintRepository) InsertCharge(ctx context.Context, c sprint.Charge) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO skill_sprint_penalty_charges (assignment_id, day_index, ledger_entry_id, charged_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (assignment_id, day_index) DO NOTHING
	`, c.AssignmentID, c.DayIndex, nullText(c.LedgerEntryID), c.ChargedAt)
	if err != nil {
		return false, classify("sprint", "InsertCharge", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListCharges returns the charged days in order.
func (r *SprintRepository) ListCharges(ctx context.Context, assignmentID string) ([]sprint.Charge, error) {
	rows, err := r.q.Query(ctx, `
		SELECT assignment_id, day_index, ledger_entry_id, charged_at
		FROM skill_sprint_penalty_charges
		WHERE assignment_id = $1
		ORDER BY day_index
	`, assignmentID)
	if err != nil {
		return nil, classify("sprint", "ListCharges", err)
	}
	defer rows.Close()

	var out []sprint.Charge
	for rows.Next() {
		var (
			c       sprint.Charge
			entryID *string
		)
		if err := rows.Scan(&c.AssignmentID, &c.DayIndex, &entryID, &c.ChargedAt); err != nil {
			return nil, classify("sprint", "ListCharges", err)
		}
		if entryID != nil {
			c.LedgerEntryID = *entryID
		}
		c.ChargedAt = c.ChargedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sprint", "ListCharges", err)
	}
	return out, nil
}

// AdvanceCharged moves charged_days forward, never back.
func (r *SprintRepository) AdvanceCharged(ctx context.Context, id string, day int, lastPenaltyAt, now time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE skill_sprints SET
			charged_days = GREATEST(charged_days, $1),
			last_penalty_at = CASE WHEN charged_days < $1 THEN $2 ELSE last_penalty_at END,
			updated_at = $3
		WHERE id = $4
	`, day, lastPenaltyAt, now, id)
	if err != nil {
		return classify("sprint", "AdvanceCharged", err)
	}
	return nil
}

// MarkCompleted sets completion fields only on an open, enabled assignment.
func (r *SprintRepository) MarkCompleted(ctx context.Context, a *sprint.Assignment) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE skill_sprints SET
			completed_at = $1,
			completed_by = $2,
			awarded_points = $3,
			updated_at = $4
		WHERE id = $5 AND completed_at IS NULL AND enabled
	`, a.CompletedAt, a.CompletedBy, a.AwardedPoints, a.UpdatedAt, a.ID)
	if err != nil {
		return false, classify("sprint", "MarkCompleted", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Disable turns the assignment off; false when it already was.
func (r *SprintRepository) Disable(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE skill_sprints SET enabled = FALSE, updated_at = $1
		WHERE id = $2 AND enabled
	`, now, id)
	if err != nil {
		return false, classify("sprint", "Disable", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SprintRepository) list(ctx context.Context, op, query string, args ...any) ([]*sprint.Assignment, error) {
	rows, err := r.q.Query(ctx, query, args...)
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

func scanAssignment(row pgx.Row) (*sprint.Assignment, error) {
	var a sprint.Assignment
	if err := row.Scan(
		&a.ID, &a.StudentID, &a.SourceLabel, &a.AssignedAt, &a.DueAt,
		&a.RewardPoints, &a.PenaltyPointsPerDay, &a.RequestedPenaltyPointsPerDay,
		&a.ChargedDays, &a.LastPenaltyAt, &a.CompletedAt, &a.CompletedBy, &a.AwardedPoints,
		&a.Enabled, &a.AssignedBy, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.AssignedAt = a.AssignedAt.UTC()
	a.DueAt = a.DueAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	a.LastPenaltyAt = utcPtr(a.LastPenaltyAt)
	a.CompletedAt = utcPtr(a.CompletedAt)
	return &a, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
