package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL.
type StudentRepository struct {
	q Querier
}

var _ student.Repository = (*StudentRepository)(nil)

const studentColumns = `id, display_name, points_total, points_balance, lifetime_points, created_at, updated_at`

// Create creates a new student.
func (r *StudentRepository) Create(ctx context.Context, s *student.Student) error {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO students (`+studentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		s.ID,
		s.DisplayName,
		s.Balances.PointsTotal,
		s.Balances.PointsBalance,
		s.Balances.LifetimePoints,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return classify("student", "Create", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStudentAlreadyExists
	}
	return nil
}

// GetByID returns a student by ID.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*student.Student, error) {
	return r.get(ctx, "GetByID", `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
}

// GetForUpdate locks the student row until the transaction ends.
func (r *StudentRepository) GetForUpdate(ctx context.Context, id string) (*student.Student, error) {
	return r.get(ctx, "GetForUpdate", `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, id)
}

func (r *StudentRepository) get(ctx context.Context, op, query, id string) (*student.Student, error) {
	s, err := scanStudent(r.q.QueryRow(ctx, query, id))
	if IsNoRows(err) {
		return nil, shared.ErrStudentNotFound
	}
	if err != nil {
		return nil, classify("student", op, err)
	}
	return s, nil
}

// UpdateBalances stores the result of a recompute.
func (r *StudentRepository) UpdateBalances(ctx context.Context, id string, b ledger.Balances, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE students SET
			points_total = $1,
			points_balance = $2,
			lifetime_points = $3,
			updated_at = $4
		WHERE id = $5
	`, b.PointsTotal, b.PointsBalance, b.LifetimePoints, at, id)
	if err != nil {
		return classify("student", "UpdateBalances", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStudentNotFound
	}
	return nil
}

// RecordCheckin inserts the day's check-in; false when it already existed.
func (r *StudentRepository) RecordCheckin(ctx context.Context, c student.Checkin) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO student_checkins (student_id, checkin_date, checked_in_at)
		VALUES ($1, $2::date, $3)
		ON CONFLICT (student_id, checkin_date) DO NOTHING
	`, c.StudentID, c.Date, c.CheckedInAt)
	if err != nil {
		return false, classify("student", "RecordCheckin", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountCheckins returns the number of distinct check-in days.
func (r *StudentRepository) CountCheckins(ctx context.Context, studentID string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM student_checkins WHERE student_id = $1`, studentID,
	).Scan(&n)
	if err != nil {
		return 0, classify("student", "CountCheckins", err)
	}
	return n, nil
}

func scanStudent(row pgx.Row) (*student.Student, error) {
	var s student.Student
	if err := row.Scan(
		&s.ID,
		&s.DisplayName,
		&s.Balances.PointsTotal,
		&s.Balances.PointsBalance,
		&s.Balances.LifetimePoints,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}
