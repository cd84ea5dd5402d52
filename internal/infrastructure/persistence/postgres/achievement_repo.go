package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	q Querier
}

var _ achievement.Repository = (*AchievementRepository)(nil)

const badgeColumns = `id, name, description, criteria_type, criteria_threshold,
	points_award, enabled, prestige, created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// Badges
// ─────────────────────────────────────────────────────────────────────────────

// CreateBadge stores a new badge.
func (r *AchievementRepository) CreateBadge(ctx context.Context, b *achievement.Badge) error {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO badges (`+badgeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		b.ID, b.Name, b.Description, string(b.Criteria.Type), b.Criteria.Threshold,
		b.PointsAward, b.Enabled, b.Prestige, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return classify("achievement", "CreateBadge", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("achievement", "CreateBadge", shared.ErrAlreadyExists, "badge already exists")
	}
	return nil
}

// UpdateBadge rewrites a badge definition.
func (r *AchievementRepository) UpdateBadge(ctx context.Context, b *achievement.Badge) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE badges SET
			name = $1,
			description = $2,
			criteria_type = $3,
			criteria_threshold = $4,
			points_award = $5,
			enabled = $6,
			prestige = $7,
			updated_at = $8
		WHERE id = $9
	`,
		b.Name, b.Description, string(b.Criteria.Type), b.Criteria.Threshold,
		b.PointsAward, b.Enabled, b.Prestige, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return classify("achievement", "UpdateBadge", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrBadgeNotFound
	}
	return nil
}

// GetBadge returns one badge.
func (r *AchievementRepository) GetBadge(ctx context.Context, id string) (*achievement.Badge, error) {
	b, err := scanBadge(r.q.QueryRow(ctx, `SELECT `+badgeColumns+` FROM badges WHERE id = $1`, id))
	if IsNoRows(err) {
		return nil, shared.ErrBadgeNotFound
	}
	if err != nil {
		return nil, classify("achievement", "GetBadge", err)
	}
	return b, nil
}

// ListAutoAwardable returns enabled, non-prestige badges.
func (r *AchievementRepository) ListAutoAwardable(ctx context.Context) ([]*achievement.Badge, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+badgeColumns+` FROM badges
		WHERE enabled AND NOT prestige
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, classify("achievement", "ListAutoAwardable", err)
	}
	defer rows.Close()

	var out []*achievement.Badge
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, classify("achievement", "ListAutoAwardable", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("achievement", "ListAutoAwardable", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Awards
// ─────────────────────────────────────────────────────────────────────────────

// FindCandidates returns students who meet the criterion and lack the badge.
func (r *AchievementRepository) FindCandidates(ctx context.Context, b *achievement.Badge) ([]string, error) {
	var (
		query string
		args  []any
	)
	switch b.Criteria.Type {
	case achievement.CriteriaCheckins:
		query = `
			SELECT c.student_id
			FROM student_checkins c
			WHERE NOT EXISTS (
				SELECT 1 FROM badge_awards a WHERE a.student_id = c.student_id AND a.badge_id = $1
			)
			GROUP BY c.student_id
			HAVING count(*) >= $2
			ORDER BY c.student_id`
		args = []any{b.ID, b.Criteria.Threshold}
	case achievement.CriteriaLifetimePoints, achievement.CriteriaLevel:
		query = `
			SELECT s.id
			FROM students s
			WHERE s.lifetime_points >= $1
			  AND NOT EXISTS (
				SELECT 1 FROM badge_awards a WHERE a.student_id = s.id AND a.badge_id = $2
			  )
			ORDER BY s.id`
		args = []any{b.Criteria.MinLifetimePoints(), b.ID}
	default:
		return nil, b.Criteria.Validate()
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("achievement", "FindCandidates", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("achievement", "FindCandidates", err)
	}
	return ids, nil
}

// InsertAward claims the (student, badge) pair; false when already held.
func (r *AchievementRepository) InsertAward(ctx context.Context, a achievement.Award) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO badge_awards (student_id, badge_id, points_awarded, awarded_by, awarded_at, auto)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, badge_id) DO NOTHING
	`, a.StudentID, a.BadgeID, a.PointsAwarded, a.AwardedBy, a.AwardedAt, a.Auto)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return false, shared.ErrStudentNotFound
		}
		return false, classify("achievement", "InsertAward", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListAwards returns every holder of the badge.
func (r *AchievementRepository) ListAwards(ctx context.Context, badgeID string) ([]achievement.Award, error) {
	rows, err := r.q.Query(ctx, `
		SELECT student_id, badge_id, points_awarded, awarded_by, awarded_at, auto
		FROM badge_awards
		WHERE badge_id = $1
		ORDER BY student_id
	`, badgeID)
	if err != nil {
		return nil, classify("achievement", "ListAwards", err)
	}
	defer rows.Close()

	var out []achievement.Award
	for rows.Next() {
		var a achievement.Award
		if err := rows.Scan(&a.StudentID, &a.BadgeID, &a.PointsAwarded, &a.AwardedBy, &a.AwardedAt, &a.Auto); err != nil {
			return nil, classify("achievement", "ListAwards", err)
		}
		a.AwardedAt = a.AwardedAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("achievement", "ListAwards", err)
	}
	return out, nil
}

// UpdateAwardPoints is a compare-and-set on points_awarded.
func (r *AchievementRepository) UpdateAwardPoints(ctx context.Context, studentID, badgeID string, previous, target int) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE badge_awards SET points_awarded = $1
		WHERE student_id = $2 AND badge_id = $3 AND points_awarded = $4
	`, target, studentID, badgeID, previous)
	if err != nil {
		return false, classify("achievement", "UpdateAwardPoints", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanBadge(row pgx.Row) (*achievement.Badge, error) {
	var (
		b            achievement.Badge
		criteriaType string
	)
	if err := row.Scan(
		&b.ID, &b.Name, &b.Description, &criteriaType, &b.Criteria.Threshold,
		&b.PointsAward, &b.Enabled, &b.Prestige, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Criteria.Type = achievement.CriteriaType(criteriaType)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}
