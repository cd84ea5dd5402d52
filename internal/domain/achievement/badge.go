// Package achievement содержит бейджи, их критерии и записи о выдаче.
// Выдача идемпотентна: пара (student_id, badge_id) уникальна в хранилище.
package achievement

import (
	"strings"
	"time"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: BADGE
// ══════════════════════════════════════════════════════════════════════════════

// Badge - бейдж с критерием автоматической выдачи.
type Badge struct {
	ID          string
	Name        string
	Description string
	Criteria    Criteria

	// PointsAward - сколько очков даёт бейдж. Может быть отрицательным.
	PointsAward int

	Enabled bool

	// Prestige - престижные бейджи выдаются только вручную.
	Prestige bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAutoAwardable возвращает true для бейджей, участвующих в автопроходе.
func (b *Badge) IsAutoAwardable() bool {
	return b.Enabled && !b.Prestige
}

// BadgeParams содержит параметры создания или обновления бейджа.
type BadgeParams struct {
	ID          string
	Name        string
	Description string
	Criteria    Criteria
	PointsAward int
	Enabled     bool
	Prestige    bool
	Now         time.Time
}

// NewBadge создаёт бейдж. Критерий проверяется здесь, а не при чтении.
func NewBadge(p BadgeParams) (*Badge, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, shared.NewDomainError("achievement", "New", shared.ErrInvalidID, "badge id is required")
	}
	b := &Badge{ID: p.ID, CreatedAt: p.Now}
	if err := b.Apply(p); err != nil {
		return nil, err
	}
	return b, nil
}

// Apply перезаписывает изменяемые поля бейджа.
func (b *Badge) Apply(p BadgeParams) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrEmptyValue, "badge name is required")
	}
	if len(name) > 120 {
		return shared.ValidationError("achievement", "Validate", "badge name must be at most 120 chars")
	}
	if err := p.Criteria.Validate(); err != nil {
		return err
	}

	b.Name = name
	b.Description = strings.TrimSpace(p.Description)
	b.Criteria = p.Criteria
	b.PointsAward = p.PointsAward
	b.Enabled = p.Enabled
	b.Prestige = p.Prestige
	b.UpdatedAt = p.Now
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARDS
// ══════════════════════════════════════════════════════════════════════════════

// Award - запись о выдаче бейджа студенту.
type Award struct {
	StudentID     string
	BadgeID       string
	PointsAwarded int
	AwardedBy     string
	AwardedAt     time.Time
	Auto          bool
}

// Adjustment - компенсирующая дельта для одной выдачи.
type Adjustment struct {
	StudentID string `json:"student_id"`
	Previous  int    `json:"previous"`
	Target    int    `json:"target"`
	Delta     int    `json:"delta"`
}

// PlanAdjustments возвращает дельты target - points_awarded для выдач,
// у которых дельта ненулевая. Отрицательные дельты (списания) допустимы.
func PlanAdjustments(target int, awards []Award) []Adjustment {
	var plan []Adjustment
	for _, a := range awards {
		delta := target - a.PointsAwarded
		if delta == 0 {
			continue
		}
		plan = append(plan, Adjustment{
			StudentID: a.StudentID,
			Previous:  a.PointsAwarded,
			Target:    target,
			Delta:     delta,
		})
	}
	return plan
}

// TotalDelta суммирует дельты плана.
func TotalDelta(plan []Adjustment) int {
	total := 0
	for _, a := range plan {
		total += a.Delta
	}
	return total
}
