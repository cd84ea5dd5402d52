package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

type ledgerRepo struct {
	q querier
}

var _ ledger.Repository = (*ledgerRepo)(nil)

const entryColumns = `id, student_id, points, category, note, source_type, source_id, created_by, created_at`

func (r *ledgerRepo) Append(ctx context.Context, e *ledger.Entry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StudentID, e.Points, string(e.Category), e.Note,
		nullString(e.SourceType), nullString(e.SourceID), e.CreatedBy, millis(e.CreatedAt),
	)
	if err != nil {
		if IsConstraint(err) {
			return shared.WrapError("ledger", "Append", shared.ErrValidation, "entry violates a constraint", err)
		}
		return classify("ledger", "Append", err)
	}
	return nil
}

func (r *ledgerRepo) GetByID(ctx context.Context, id string) (*ledger.Entry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrEntryNotFound
	}
	if err != nil {
		return nil, classify("ledger", "GetByID", err)
	}
	return e, nil
}

func (r *ledgerRepo) List(ctx context.Context, f ledger.Filter) ([]*ledger.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, f.SourceType)
	}
	if f.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if !f.Created.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, millis(f.Created.From))
	}
	if !f.Created.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, millis(f.Created.To))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	page := f.Page.Normalize()
	query += ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("ledger", "List", err)
	}
	defer rows.Close()

	var out []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify("ledger", "List", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("ledger", "List", err)
	}
	return out, nil
}

func (r *ledgerRepo) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		return classify("ledger", "Delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrEntryNotFound
	}
	return nil
}

func (r *ledgerRepo) SumByCategory(ctx context.Context, studentID string) ([]ledger.CategorySum, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT category,
		       COALESCE(SUM(points), 0),
		       COALESCE(SUM(CASE WHEN points > 0 THEN points ELSE 0 END), 0)
		FROM ledger_entries
		WHERE student_id = ?
		GROUP BY category
		ORDER BY category`, studentID)
	if err != nil {
		return nil, classify("ledger", "SumByCategory", err)
	}
	defer rows.Close()

	var sums []ledger.CategorySum
	for rows.Next() {
		var (
			s   ledger.CategorySum
			cat string
		)
		if err := rows.Scan(&cat, &s.Net, &s.Positive); err != nil {
			return nil, classify("ledger", "SumByCategory", err)
		}
		s.Category = ledger.Category(cat)
		sums = append(sums, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("ledger", "SumByCategory", err)
	}
	return sums, nil
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		e                    ledger.Entry
		category             string
		sourceType, sourceID sql.NullString
		created              int64
	)
	if err := row.Scan(
		&e.ID, &e.StudentID, &e.Points, &category, &e.Note,
		&sourceType, &sourceID, &e.CreatedBy, &created,
	); err != nil {
		return nil, err
	}
	e.Category = ledger.Category(category)
	e.SourceType = sourceType.String
	e.SourceID = sourceID.String
	e.CreatedAt = fromMillis(created)
	return &e, nil
}
