package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements ledger.Repository for PostgreSQL.
type LedgerRepository struct {
	q Querier
}

var _ ledger.Repository = (*LedgerRepository)(nil)

const entryColumns = `id, student_id, points, category, note, source_type, source_id, created_by, created_at`

// Append stores a new entry.
func (r *LedgerRepository) Append(ctx context.Context, e *ledger.Entry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.ID,
		e.StudentID,
		e.Points,
		string(e.Category),
		e.Note,
		nullText(e.SourceType),
		nullText(e.SourceID),
		e.CreatedBy,
		e.CreatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrStudentNotFound
		}
		if IsUniqueViolation(err) || IsCheckViolation(err) {
			return shared.WrapError("ledger", "Append", shared.ErrValidation, "entry violates a constraint", err)
		}
		return classify("ledger", "Append", err)
	}
	return nil
}

// GetByID returns one entry.
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*ledger.Entry, error) {
	e, err := scanEntry(r.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
	if IsNoRows(err) {
		return nil, shared.ErrEntryNotFound
	}
	if err != nil {
		return nil, classify("ledger", "GetByID", err)
	}
	return e, nil
}

// List returns entries matching the filter ordered by created_at, id.
func (r *LedgerRepository) List(ctx context.Context, f ledger.Filter) ([]*ledger.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.StudentID != "" {
		add("student_id = $%d", f.StudentID)
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.SourceType != "" {
		add("source_type = $%d", f.SourceType)
	}
	if f.SourceID != "" {
		add("source_id = $%d", f.SourceID)
	}
	if !f.Created.From.IsZero() {
		add("created_at >= $%d", f.Created.From)
	}
	if !f.Created.To.IsZero() {
		add("created_at < $%d", f.Created.To)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + entryColumns + ` FROM ledger_entries`)
	if len(where) > 0 {
		sb.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	fmt.Fprintf(&sb, ` ORDER BY created_at, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.q.Query(ctx, sb.String(), args...)
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

// Delete removes an entry.
func (r *LedgerRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		return classify("ledger", "Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrEntryNotFound
	}
	return nil
}

// SumByCategory aggregates the student's entries per category.
func (r *LedgerRepository) SumByCategory(ctx context.Context, studentID string) ([]ledger.CategorySum, error) {
	rows, err := r.q.Query(ctx, `
		SELECT category,
		       COALESCE(SUM(points), 0)::int,
		       COALESCE(SUM(points) FILTER (WHERE points > 0), 0)::int
		FROM ledger_entries
		WHERE student_id = $1
		GROUP BY category
		ORDER BY category
	`, studentID)
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

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e                    ledger.Entry
		category             string
		sourceType, sourceID *string
	)
	if err := row.Scan(
		&e.ID, &e.StudentID, &e.Points, &category, &e.Note,
		&sourceType, &sourceID, &e.CreatedBy, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Category = ledger.Category(category)
	if sourceType != nil {
		e.SourceType = *sourceType
	}
	if sourceID != nil {
		e.SourceID = *sourceID
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// nullText maps "" to SQL NULL.
func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
