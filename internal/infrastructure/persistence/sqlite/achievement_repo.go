package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

type achievementRepo struct {
	q querier
}

var _ achievement.Repository = (*achievementRepo)(nil)

const badgeColumns = `id, name, description, criteria_type, criteria_threshold,
	points_award, enabled, prestige, created_at, updated_at`

func (r *achievementRepo) CreateBadge(ctx context.Context, b *achievement.Badge) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO badges (`+badgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		b.ID, b.Name, b.Description, string(b.Criteria.Type), b.Criteria.Threshold,
		b.PointsAward, boolInt(b.Enabled), boolInt(b.Prestige), millis(b.CreatedAt), millis(b.UpdatedAt),
	)
	if err != nil {
		return classify("achievement", "CreateBadge", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.NewDomainError("achievement", "CreateBadge", shared.ErrAlreadyExists, "badge already exists")
	}
	return nil
}

func (r *achievementRepo) UpdateBadge(ctx context.Context, b *achievement.Badge) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE badges
		SET name = ?, description = ?, criteria_type = ?, criteria_threshold = ?,
		    points_award = ?, enabled = ?, prestige = ?, updated_at = ?
		WHERE id = ?`,
		b.Name, b.Description, string(b.Criteria.Type), b.Criteria.Threshold,
		b.PointsAward, boolInt(b.Enabled), boolInt(b.Prestige), millis(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return classify("achievement", "UpdateBadge", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrBadgeNotFound
	}
	return nil
}

func (r *achievementRepo) GetBadge(ctx context.Context, id string) (*achievement.Badge, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+badgeColumns+` FROM badges WHERE id = ?`, id)
	b, err := scanBadge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrBadgeNotFound
	}
	if err != nil {
		return nil, classify("achievement", "GetBadge", err)
	}
	return b, nil
}

func (r *achievementRepo) ListAutoAwardable(ctx context.Context) ([]*achievement.Badge, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+badgeColumns+` FROM badges
		WHERE enabled = 1 AND prestige = 0
		ORDER BY created_at, id`)
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

// FindCandidates selects only students who satisfy the criterion and do not
// hold the badge yet, so repeated passes scan an empty set.
func (r *achievementRepo) FindCandidates(ctx context.Context, b *achievement.Badge) ([]string, error) {
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
				SELECT 1 FROM badge_awards a WHERE a.student_id = c.student_id AND a.badge_id = ?
			)
			GROUP BY c.student_id
			HAVING COUNT(*) >= ?
			ORDER BY c.student_id`
		args = []any{b.ID, b.Criteria.Threshold}
	case achievement.CriteriaLifetimePoints, achievement.CriteriaLevel:
		query = `
			SELECT s.id
			FROM students s
			WHERE s.lifetime_points >= ?
			  AND NOT EXISTS (
				SELECT 1 FROM badge_awards a WHERE a.student_id = s.id AND a.badge_id = ?
			  )
			ORDER BY s.id`
		args = []any{b.Criteria.MinLifetimePoints(), b.ID}
	default:
		return nil, b.Criteria.Validate()
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("achievement", "FindCandidates", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("achievement", "FindCandidates", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("achievement", "FindCandidates", err)
	}
	return ids, nil
}

func (r *achievementRepo) InsertAward(ctx context.Context, a achievement.Award) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO badge_awards (student_id, badge_id, points_awarded, awarded_by, awarded_at, auto)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, badge_id) DO NOTHING`,
		a.StudentID, a.BadgeID, a.PointsAwarded, a.AwardedBy, millis(a.AwardedAt), boolInt(a.Auto),
	)
	if err != nil {
		return false, classify("achievement", "InsertAward", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *achievementRepo) ListAwards(ctx context.Context, badgeID string) ([]achievement.Award, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT student_id, badge_id, points_awarded, awarded_by, awarded_at, auto
		FROM badge_awards
		WHERE badge_id = ?
		ORDER BY student_id`, badgeID)
	if err != nil {
		return nil, classify("achievement", "ListAwards", err)
	}
	defer rows.Close()

	var out []achievement.Award
	for rows.Next() {
		var (
			a    achievement.Award
			at   int64
			auto int
		)
		if err := rows.Scan(&a.StudentID, &a.BadgeID, &a.PointsAwarded, &a.AwardedBy, &at, &auto); err != nil {
			return nil, classify("achievement", "ListAwards", err)
		}
		a.AwardedAt = fromMillis(at)
		a.Auto = auto != 0
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("achievement", "ListAwards", err)
	}
	return out, nil
}

func (r *achievementRepo) UpdateAwardPoints(ctx context.Context, studentID, badgeID string, previous, target int) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE badge_awards SET points_awarded = ?
		WHERE student_id = ? AND badge_id = ? AND points_awarded = ?`,
		target, studentID, badgeID, previous,
	)
	if err != nil {
		return false, classify("achievement", "UpdateAwardPoints", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanBadge(row rowScanner) (*achievement.Badge, error) {
	var (
		b                 achievement.Badge
		criteriaType      string
		enabled, prestige int
		created, updated  int64
	)
	if err := row.Scan(
		&b.ID, &b.Name, &b.Description, &criteriaType, &b.Criteria.Threshold,
		&b.PointsAward, &enabled, &prestige, &created, &updated,
	); err != nil {
		return nil, err
	}
	b.Criteria.Type = achievement.CriteriaType(criteriaType)
	b.Enabled = enabled != 0
	b.Prestige = prestige != 0
	b.CreatedAt = fromMillis(created)
	b.UpdatedAt = fromMillis(updated)
	return &b, nil
}
