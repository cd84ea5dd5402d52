package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/student"
)

type studentRepo struct {
	q querier
}

var _ student.Repository = (*studentRepo)(nil)

const studentColumns = `id, display_name, points_total, points_balance, lifetime_points, created_at, updated_at`

func (r *studentRepo) Create(ctx context.Context, s *student.Student) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO students (`+studentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.DisplayName,
		s.Balances.PointsTotal, s.Balances.PointsBalance, s.Balances.LifetimePoints,
		millis(s.CreatedAt), millis(s.UpdatedAt),
	)
	if err != nil {
		return classify("student", "Create", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrStudentAlreadyExists
	}
	return nil
}

func (r *studentRepo) GetByID(ctx context.Context, id string) (*student.Student, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id)
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrStudentNotFound
	}
	if err != nil {
		return nil, classify("student", "GetByID", err)
	}
	return s, nil
}

// GetForUpdate is a plain read: the transaction already holds SQLite's
// database-wide write lock.
func (r *studentRepo) GetForUpdate(ctx context.Context, id string) (*student.Student, error) {
	return r.GetByID(ctx, id)
}

func (r *studentRepo) UpdateBalances(ctx context.Context, id string, b ledger.Balances, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE students
		SET points_total = ?, points_balance = ?, lifetime_points = ?, updated_at = ?
		WHERE id = ?`,
		b.PointsTotal, b.PointsBalance, b.LifetimePoints, millis(at), id,
	)
	if err != nil {
		return classify("student", "UpdateBalances", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrStudentNotFound
	}
	return nil
}

func (r *studentRepo) RecordCheckin(ctx context.Context, c student.Checkin) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO student_checkins (student_id, checkin_date, checked_in_at)
		VALUES (?, ?, ?)
		ON CONFLICT (student_id, checkin_date) DO NOTHING`,
		c.StudentID, c.Date, millis(c.CheckedInAt),
	)
	if err != nil {
		return false, classify("student", "RecordCheckin", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *studentRepo) CountCheckins(ctx context.Context, studentID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM student_checkins WHERE student_id = ?`, studentID,
	).Scan(&n)
	if err != nil {
		return 0, classify("student", "CountCheckins", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*student.Student, error) {
	var (
		s                student.Student
		created, updated int64
	)
	if err := row.Scan(
		&s.ID, &s.DisplayName,
		&s.Balances.PointsTotal, &s.Balances.PointsBalance, &s.Balances.LifetimePoints,
		&created, &updated,
	); err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}
